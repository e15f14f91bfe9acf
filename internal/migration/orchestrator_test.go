package migration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/libreviews/revdal/internal/catalog"
	"github.com/libreviews/revdal/internal/common"
	"github.com/libreviews/revdal/internal/database"
	"github.com/libreviews/revdal/internal/database/dbtest"
	"github.com/libreviews/revdal/internal/domain"
	"github.com/libreviews/revdal/internal/lock"
	"github.com/libreviews/revdal/internal/metrics"
	"github.com/libreviews/revdal/internal/search"
	"github.com/libreviews/revdal/internal/source"
	"github.com/libreviews/revdal/internal/validate"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockIndexer struct {
	mock.Mock
}

func (m *mockIndexer) IndexEntity(ctx context.Context, kind string, doc search.Document) error {
	args := m.Called(ctx, kind, doc.DocumentID())
	return args.Error(0)
}

func (m *mockIndexer) DeleteEntity(ctx context.Context, kind, id string) error {
	args := m.Called(ctx, kind, id)
	return args.Error(0)
}

// captureReporter remembers the run it was given and the state at that time.
type captureReporter struct {
	mu    sync.Mutex
	run   *Run
	state State
	err   error
}

func (c *captureReporter) Report(_ context.Context, run *Run) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.run = run
	c.state = run.State
	return c.err
}

type stubValidator struct {
	calls    int
	findings []validate.Finding
	err      error
}

func (s *stubValidator) Validate(context.Context, []catalog.Kind, map[string]int) ([]validate.Finding, error) {
	s.calls++
	return s.findings, s.err
}

type deadSource struct{ *source.Memory }

func (deadSource) ListTables(context.Context) ([]string, error) {
	return nil, errors.New("connection refused")
}

// hangingSource answers the handshake but never returns a batch.
type hangingSource struct{ *source.Memory }

func (hangingSource) FetchBatch(ctx context.Context, _ string, _, _ int) ([]source.Record, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type heldLocker struct{}

func (heldLocker) Acquire(context.Context, string) (lock.Lease, error) {
	return nil, common.ErrLocked
}

func user(id, name string) source.Record {
	return source.Record{"id": id, "displayName": name, "registrationDate": "2018-01-01T00:00:00Z"}
}

func team(id, creator string) source.Record {
	return source.Record{
		"id": id, "_revID": "rev-" + id, "_revDate": "2020-01-01T00:00:00Z", "_revUser": creator,
		"name": map[string]any{"en": "Team " + id}, "createdBy": creator,
	}
}

func fixture() *source.Memory {
	src := source.NewMemory(7)
	src.Put("users", user("u1", "Ada"), user("u2", "Grace"))
	src.Put("teams", team("t1", "u1"), team("t2", "u2"))
	src.Put("teams_users_membership",
		source.Record{"id": "m1", "teams_id": "t1", "users_id": "u1"},
		source.Record{"id": "m2", "teams_id": "t2", "users_id": "u1"},
		source.Record{"id": "m3", "teams_id": "t-gone", "users_id": "u2"},
	)
	return src
}

func count(t *testing.T, store *database.Store, base string) int64 {
	t.Helper()
	n, err := store.Count(context.Background(), base)
	require.NoError(t, err)
	return n
}

func stats(t *testing.T, run *Run, kind string) *KindStats {
	t.Helper()
	for _, k := range run.Kinds {
		if k.Kind == kind {
			return k
		}
	}
	t.Fatalf("no stats for %s", kind)
	return nil
}

func TestRun_FullMigration(t *testing.T) {
	store := dbtest.Open(t, "")
	src := fixture()
	rep := &captureReporter{}
	v := validate.New(src, store, validate.DefaultOptions, zerolog.Nop())

	o := New(src, store, Options{BatchSize: 10}, zerolog.Nop(),
		WithValidator(v), WithReporter(rep), WithMetrics(metrics.New("migrate")))
	run, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []State{StateInitializing, StateMigrating, StateValidating, StateReporting, StateDone}, run.Transitions)
	assert.Equal(t, StateReporting, rep.state)
	assert.Same(t, run, rep.run)
	assert.Equal(t, StatusSucceeded, run.Status())
	assert.Empty(t, run.Errors)

	assert.Equal(t, int64(2), count(t, store, domain.TableUsers))
	assert.Equal(t, int64(2), count(t, store, domain.TableTeams))
	assert.Equal(t, int64(2), count(t, store, domain.TableTeamMembers))

	members := stats(t, run, domain.TableTeamMembers)
	assert.Equal(t, 3, members.Fetched)
	assert.Equal(t, 2, members.Migrated)
	assert.Equal(t, 1, members.Skipped)
	assert.True(t, members.Completed)
	assert.Equal(t, 2, stats(t, run, domain.TableUsers).Backfilled)

	// the dropped membership shows up as a warning, not a failure
	require.NotEmpty(t, run.Findings)
	assert.False(t, validate.HasErrors(run.Findings))
	assert.Len(t, run.Kinds, len(catalog.Plan()))
}

func TestRun_BatchesBySize(t *testing.T) {
	store := dbtest.Open(t, "")
	src := source.NewMemory(1)
	for i := 0; i < 2500; i++ {
		src.Put("users", user(fmt.Sprintf("u%04d", i), fmt.Sprintf("user-%04d", i)))
	}

	run, err := New(src, store, Options{BatchSize: 1000, Table: "users"}, zerolog.Nop()).Run(context.Background())
	require.NoError(t, err)

	s := stats(t, run, domain.TableUsers)
	assert.Equal(t, 3, s.Batches)
	assert.Equal(t, 2500, s.Migrated)
	assert.Equal(t, int64(2500), s.SourceCount)
	assert.Equal(t, int64(2500), count(t, store, domain.TableUsers))
}

func TestRun_ExactMultipleOfBatchSize(t *testing.T) {
	store := dbtest.Open(t, "")
	src := source.NewMemory(1)
	for i := 0; i < 4; i++ {
		src.Put("users", user(fmt.Sprintf("u%d", i), fmt.Sprintf("user-%d", i)))
	}

	run, err := New(src, store, Options{BatchSize: 2, Table: "users"}, zerolog.Nop()).Run(context.Background())
	require.NoError(t, err)

	// the third fetch comes back empty
	s := stats(t, run, domain.TableUsers)
	assert.Equal(t, 2, s.Batches)
	assert.Equal(t, 4, s.Migrated)
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	store := dbtest.Open(t, "")
	src := fixture()
	v := &stubValidator{}
	idx := &mockIndexer{}

	run, err := New(src, store, Options{DryRun: true}, zerolog.Nop(), WithValidator(v), WithIndexer(idx)).
		Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, run.Status())
	assert.True(t, run.DryRun)
	assert.Zero(t, count(t, store, domain.TableUsers))
	assert.Zero(t, count(t, store, domain.TableTeams))
	assert.Zero(t, count(t, store, domain.TableTeamMembers))

	assert.Equal(t, 2, stats(t, run, domain.TableUsers).Migrated)
	// teams reconcile against users that were only counted
	assert.Equal(t, 2, stats(t, run, domain.TableTeams).Migrated)
	assert.Equal(t, 2, stats(t, run, domain.TableTeamMembers).Migrated)
	assert.Equal(t, 1, stats(t, run, domain.TableTeamMembers).Skipped)

	assert.Zero(t, v.calls)
	idx.AssertNotCalled(t, "IndexEntity", mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_DryRunKeepsExistingRows(t *testing.T) {
	store := dbtest.Open(t, "")
	_, err := New(fixture(), store, Options{Table: "users"}, zerolog.Nop()).Run(context.Background())
	require.NoError(t, err)

	src := source.NewMemory(1)
	src.Put("users", user("u9", "Linus"))
	_, err = New(src, store, Options{Table: "users", DryRun: true}, zerolog.Nop()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(2), count(t, store, domain.TableUsers))
}

func TestRun_ClearsBeforeReseed(t *testing.T) {
	store := dbtest.Open(t, "")
	src := fixture()

	_, err := New(src, store, Options{}, zerolog.Nop()).Run(context.Background())
	require.NoError(t, err)
	run, err := New(src, store, Options{}, zerolog.Nop()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, run.Status())
	assert.Equal(t, int64(2), count(t, store, domain.TableUsers))
	assert.Equal(t, int64(2), count(t, store, domain.TableTeamMembers))
}

func TestRun_SingleKindRefusesToOrphanDependents(t *testing.T) {
	store := dbtest.Open(t, "")
	_, err := New(fixture(), store, Options{}, zerolog.Nop()).Run(context.Background())
	require.NoError(t, err)

	run, err := New(fixture(), store, Options{Table: "users"}, zerolog.Nop()).Run(context.Background())
	var derr *common.DependentRowsError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "users", derr.Table)
	assert.Equal(t, StatusFailed, run.Status())
	require.Len(t, run.Errors, 1)
	assert.Equal(t, "dependent_rows", run.Errors[0].Type)
	assert.Equal(t, domain.TableUsers, run.Errors[0].Kind)

	// nothing was cleared
	assert.Equal(t, int64(2), count(t, store, domain.TableUsers))
	assert.Equal(t, int64(2), count(t, store, domain.TableTeams))
	assert.Equal(t, int64(2), count(t, store, domain.TableTeamMembers))
}

func TestRun_SingleKindReseedsLeafKind(t *testing.T) {
	store := dbtest.Open(t, "")
	_, err := New(fixture(), store, Options{}, zerolog.Nop()).Run(context.Background())
	require.NoError(t, err)

	run, err := New(fixture(), store, Options{Table: "team_members"}, zerolog.Nop()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, run.Status())
	assert.Equal(t, int64(2), count(t, store, domain.TableTeamMembers))
	assert.Equal(t, int64(2), count(t, store, domain.TableTeams))
}

func TestRun_EmptyKind(t *testing.T) {
	store := dbtest.Open(t, "")

	run, err := New(source.NewMemory(1), store, Options{Table: "things"}, zerolog.Nop()).Run(context.Background())
	require.NoError(t, err)

	s := stats(t, run, domain.TableThings)
	assert.Zero(t, s.Batches)
	assert.Zero(t, s.Migrated)
	assert.True(t, s.Completed)
	assert.Equal(t, StatusSucceeded, run.Status())
}

func TestRun_IndexesLiveRowsOnly(t *testing.T) {
	store := dbtest.Open(t, "")
	src := fixture()
	old := team("t1-old", "u1")
	old["_oldRevOf"] = "t1"
	old["_revDate"] = "2019-01-01T00:00:00Z"
	deleted := team("t3", "u1")
	deleted["_revDeleted"] = true
	src.Put("teams", old, deleted)

	idx := &mockIndexer{}
	idx.On("IndexEntity", mock.Anything, domain.TableTeams, "t1").Return(nil).Once()
	idx.On("IndexEntity", mock.Anything, domain.TableTeams, "t2").Return(errors.New("es down")).Once()

	run, err := New(src, store, Options{}, zerolog.Nop(), WithIndexer(idx)).Run(context.Background())
	require.NoError(t, err)

	idx.AssertExpectations(t)
	// indexing failures do not fail the run
	assert.Equal(t, StatusSucceeded, run.Status())
	assert.Equal(t, 4, stats(t, run, domain.TableTeams).Migrated)
}

type cancelOnIndex struct {
	cancel context.CancelFunc
	calls  int
}

func (c *cancelOnIndex) IndexEntity(context.Context, string, search.Document) error {
	c.calls++
	c.cancel()
	return nil
}

func (c *cancelOnIndex) DeleteEntity(context.Context, string, string) error { return nil }

func TestRun_InterruptFinishesInFlightBatch(t *testing.T) {
	store := dbtest.Open(t, "")
	src := fixture()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rep := &captureReporter{}
	v := &stubValidator{}
	idx := &cancelOnIndex{cancel: cancel}

	// teams arrive one per batch; the first indexed team interrupts the run
	run, err := New(src, store, Options{BatchSize: 1}, zerolog.Nop(),
		WithIndexer(idx), WithValidator(v), WithReporter(rep)).Run(ctx)
	require.NoError(t, err)

	assert.True(t, run.Interrupted)
	assert.Equal(t, StatusInterrupted, run.Status())
	assert.Equal(t, []State{StateInitializing, StateMigrating, StateReporting, StateDone}, run.Transitions)
	assert.NotNil(t, rep.run)
	assert.Zero(t, v.calls)

	assert.Equal(t, 1, idx.calls)
	assert.Equal(t, int64(1), count(t, store, domain.TableTeams))
	assert.Equal(t, 1, stats(t, run, domain.TableTeams).Migrated)
	assert.False(t, stats(t, run, domain.TableTeams).Completed)
	assert.Zero(t, count(t, store, domain.TableTeamMembers))
}

func TestRun_InsertErrorFailsRun(t *testing.T) {
	store := dbtest.Open(t, "")
	src := source.NewMemory(1)
	// both backfill the same canonical name
	src.Put("users", user("u1", "Ada"), user("u2", "ada"))
	src.Put("teams", team("t1", "u1"))
	rep := &captureReporter{}

	run, err := New(src, store, Options{}, zerolog.Nop(), WithReporter(rep)).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrInsert)

	assert.Equal(t, []State{StateInitializing, StateMigrating, StateFailed, StateReporting, StateFailed}, run.Transitions)
	assert.Equal(t, StatusFailed, run.Status())
	require.Len(t, run.Errors, 1)
	assert.Equal(t, "insert", run.Errors[0].Type)
	assert.Equal(t, domain.TableUsers, run.Errors[0].Kind)
	assert.NotNil(t, rep.run)
	assert.Zero(t, count(t, store, domain.TableUsers))
	assert.Zero(t, count(t, store, domain.TableTeams))
}

func TestRun_TransformErrorSkipsKind(t *testing.T) {
	store := dbtest.Open(t, "")
	src := fixture()
	broken := team("t3", "u1")
	delete(broken, "_revID")
	src.Put("teams", broken)

	run, err := New(src, store, Options{}, zerolog.Nop()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateDone, run.State)
	assert.Equal(t, StatusFailed, run.Status())
	require.Len(t, run.Errors, 1)
	assert.Equal(t, "transform", run.Errors[0].Type)
	assert.Equal(t, domain.TableTeams, run.Errors[0].Kind)
	assert.False(t, stats(t, run, domain.TableTeams).Completed)

	// later kinds still run; their references to teams are dropped
	assert.Zero(t, count(t, store, domain.TableTeams))
	assert.Equal(t, 3, stats(t, run, domain.TableTeamMembers).Skipped)
}

func TestRun_SourceUnreachable(t *testing.T) {
	store := dbtest.Open(t, "")
	rep := &captureReporter{}

	run, err := New(deadSource{source.NewMemory(1)}, store, Options{}, zerolog.Nop(), WithReporter(rep)).
		Run(context.Background())
	require.ErrorIs(t, err, common.ErrConnectivity)

	assert.Equal(t, []State{StateInitializing, StateFailed, StateReporting, StateFailed}, run.Transitions)
	assert.Equal(t, "connectivity", run.Errors[0].Type)
	assert.NotNil(t, rep.run)
}

func TestRun_SourceTimeoutFailsRun(t *testing.T) {
	rep := &captureReporter{}
	src := hangingSource{fixture()}
	store := dbtest.Open(t, "")

	done := make(chan struct{})
	var run *Run
	var err error
	go func() {
		defer close(done)
		run, err = New(src, store, Options{Table: "users", SourceTimeout: 20 * time.Millisecond},
			zerolog.Nop(), WithReporter(rep)).Run(context.Background())
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not give up on a hanging source")
	}

	var cerr *common.ConnectivityError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "source", cerr.Store)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateFailed, run.State)
	assert.Equal(t, StatusFailed, run.Status())
	assert.Equal(t, "connectivity", run.Errors[0].Type)

	rep.mu.Lock()
	defer rep.mu.Unlock()
	require.NotNil(t, rep.run, "a timed-out run is still reported")
	assert.Equal(t, StateReporting, rep.state)
}

func TestRun_LockHeld(t *testing.T) {
	run, err := New(fixture(), dbtest.Open(t, ""), Options{}, zerolog.Nop(), WithLocker(heldLocker{})).
		Run(context.Background())
	require.ErrorIs(t, err, common.ErrLocked)
	assert.Equal(t, "locked", run.Errors[0].Type)
	assert.Empty(t, run.Kinds)
}

func TestRun_UnknownTable(t *testing.T) {
	run, err := New(fixture(), dbtest.Open(t, ""), Options{Table: "menus"}, zerolog.Nop()).Run(context.Background())
	require.ErrorIs(t, err, common.ErrUnknownKind)
	assert.Equal(t, StatusFailed, run.Status())
}

func TestRun_ValidateOnly(t *testing.T) {
	store := dbtest.Open(t, "")
	v := &stubValidator{findings: []validate.Finding{
		{Severity: validate.SeverityError, Kind: domain.TableUsers, Check: validate.CheckCount, Message: "missing"},
	}}

	run, err := New(fixture(), store, Options{ValidateOnly: true}, zerolog.Nop(), WithValidator(v)).
		Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []State{StateInitializing, StateValidating, StateReporting, StateDone}, run.Transitions)
	assert.Equal(t, 1, v.calls)
	assert.Empty(t, run.Kinds)
	// error findings fail the run without failing the state machine
	assert.Equal(t, StatusFailed, run.Status())
}

func TestRun_ValidatorErrorFailsRun(t *testing.T) {
	v := &stubValidator{err: &common.ConnectivityError{Store: "target", Err: errors.New("timeout")}}

	run, err := New(fixture(), dbtest.Open(t, ""), Options{ValidateOnly: true}, zerolog.Nop(), WithValidator(v)).
		Run(context.Background())
	require.ErrorIs(t, err, common.ErrConnectivity)
	assert.Equal(t, StateFailed, run.State)
}

func TestRun_ReporterErrorIsRecorded(t *testing.T) {
	rep := &captureReporter{err: errors.New("disk full")}

	run, err := New(fixture(), dbtest.Open(t, ""), Options{Table: "users"}, zerolog.Nop(), WithReporter(rep)).
		Run(context.Background())
	require.NoError(t, err)
	require.Len(t, run.Errors, 1)
	assert.Equal(t, StatusFailed, run.Status())
}

func TestRun_RelinksLegacyLineages(t *testing.T) {
	store := dbtest.Open(t, "")
	src := fixture()
	for i, date := range []string{"2019-01-01T00:00:00Z", "2019-06-01T00:00:00Z"} {
		old := team(fmt.Sprintf("t1-old%d", i), "u1")
		old["_oldRevOf"] = "t1"
		old["_revDate"] = date
		src.Put("teams", old)
	}

	run, err := New(src, store, Options{}, zerolog.Nop()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats(t, run, domain.TableTeams).Relinked)

	rows, err := store.Query(context.Background(), "SELECT _old_rev_of FROM teams WHERE id = ?", "t1-old0")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "t1-old1", rows[0]["_old_rev_of"])
}

func TestRun_TablePrefixIsolation(t *testing.T) {
	store := dbtest.Open(t, "run_a_")
	run, err := New(fixture(), store, Options{}, zerolog.Nop()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, run.Status())

	rows, err := store.Query(context.Background(), "SELECT count(*) AS n FROM run_a_users")
	require.NoError(t, err)
	assert.EqualValues(t, 2, rows[0]["n"])
}

func TestFailedRun(t *testing.T) {
	run := FailedRun(Options{DryRun: true}, &common.ConnectivityError{Store: "target", Err: errors.New("refused")})

	assert.Equal(t, StateFailed, run.State)
	assert.Equal(t, StatusFailed, run.Status())
	assert.True(t, run.DryRun)
	require.Len(t, run.Errors, 1)
	assert.Equal(t, "connectivity", run.Errors[0].Type)
}
