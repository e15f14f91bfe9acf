package database

import (
	"context"
	"fmt"

	"github.com/libreviews/revdal/internal/domain"
)

// ForeignKey is a reference from Column to RefTable(id).
type ForeignKey struct {
	Column   string
	RefTable string
	Cascade  bool
}

// TableSpec describes one target table.
type TableSpec struct {
	Base        string
	Model       any
	Versioned   bool
	GIN         []string
	Unique      []string
	ForeignKeys []ForeignKey
}

// Tables is the target schema in dependency order.
var Tables = []TableSpec{
	{Base: domain.TableUsers, Model: &domain.User{}, Unique: []string{"canonical_name"}},
	{Base: domain.TableUserMetas, Model: &domain.UserMeta{}, Versioned: true},
	{
		Base: domain.TableTeams, Model: &domain.Team{}, Versioned: true,
		GIN:         []string{"name"},
		ForeignKeys: []ForeignKey{{Column: "created_by", RefTable: domain.TableUsers}},
	},
	{
		Base: domain.TableTeamMembers, Model: &domain.TeamMember{},
		ForeignKeys: []ForeignKey{
			{Column: "team_id", RefTable: domain.TableTeams, Cascade: true},
			{Column: "user_id", RefTable: domain.TableUsers, Cascade: true},
		},
	},
	{
		Base: domain.TableTeamModerators, Model: &domain.TeamModerator{},
		ForeignKeys: []ForeignKey{
			{Column: "team_id", RefTable: domain.TableTeams, Cascade: true},
			{Column: "user_id", RefTable: domain.TableUsers, Cascade: true},
		},
	},
	{
		Base: domain.TableThings, Model: &domain.Thing{}, Versioned: true,
		GIN:         []string{"label", "metadata"},
		ForeignKeys: []ForeignKey{{Column: "created_by", RefTable: domain.TableUsers}},
	},
	{
		Base: domain.TableFiles, Model: &domain.File{}, Versioned: true,
		ForeignKeys: []ForeignKey{{Column: "uploaded_by", RefTable: domain.TableUsers}},
	},
	{
		Base: domain.TableThingFiles, Model: &domain.ThingFile{},
		ForeignKeys: []ForeignKey{
			{Column: "thing_id", RefTable: domain.TableThings, Cascade: true},
			{Column: "file_id", RefTable: domain.TableFiles, Cascade: true},
		},
	},
	{
		Base: domain.TableReviews, Model: &domain.Review{}, Versioned: true,
		GIN: []string{"title"},
		ForeignKeys: []ForeignKey{
			{Column: "thing_id", RefTable: domain.TableThings},
			{Column: "created_by", RefTable: domain.TableUsers},
		},
	},
	{
		Base: domain.TableReviewTeams, Model: &domain.ReviewTeam{},
		ForeignKeys: []ForeignKey{
			{Column: "review_id", RefTable: domain.TableReviews, Cascade: true},
			{Column: "team_id", RefTable: domain.TableTeams, Cascade: true},
		},
	},
	{
		Base: domain.TableBlogPosts, Model: &domain.BlogPost{}, Versioned: true,
		ForeignKeys: []ForeignKey{
			{Column: "team_id", RefTable: domain.TableTeams},
			{Column: "created_by", RefTable: domain.TableUsers},
		},
	},
	{
		Base: domain.TableInviteLinks, Model: &domain.InviteLink{},
		ForeignKeys: []ForeignKey{{Column: "created_by", RefTable: domain.TableUsers}},
	},
}

// LookupTable returns the definition of a base table.
func LookupTable(base string) (TableSpec, bool) {
	for _, t := range Tables {
		if t.Base == base {
			return t, true
		}
	}
	return TableSpec{}, false
}

// Dependents returns every base table that references base, directly or
// through another dependent, in dependency order.
func Dependents(base string) []string {
	hit := map[string]bool{base: true}
	var out []string
	for _, t := range Tables {
		for _, fk := range t.ForeignKeys {
			if hit[fk.RefTable] && !hit[t.Base] {
				hit[t.Base] = true
				out = append(out, t.Base)
			}
		}
	}
	return out
}

// CurrentIndexName is the partial index over lineage heads of a versioned table.
func (s *Store) CurrentIndexName(base string) string {
	return s.Table(base) + "_current_idx"
}

// ForeignKeyName names the constraint for a column of a base table.
func (s *Store) ForeignKeyName(base, column string) string {
	return fmt.Sprintf("%s_%s_fkey", s.Table(base), column)
}

// ApplySchemaMigrations creates or updates every target table with its
// indexes. GIN indexes and foreign keys exist on Postgres only.
func (s *Store) ApplySchemaMigrations(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	for _, t := range Tables {
		name := s.Table(t.Base)
		if err := db.Table(name).AutoMigrate(t.Model); err != nil {
			return fmt.Errorf("migrate %s: %w", name, err)
		}
		for _, stmt := range s.indexDDL(t) {
			if err := db.Exec(stmt).Error; err != nil {
				return fmt.Errorf("index on %s: %w", name, err)
			}
		}
	}

	if !s.IsPostgres() {
		return nil
	}
	for _, t := range Tables {
		for _, fk := range t.ForeignKeys {
			if err := db.Exec(s.foreignKeyDDL(t.Base, fk)).Error; err != nil {
				return fmt.Errorf("foreign key %s: %w", s.ForeignKeyName(t.Base, fk.Column), err)
			}
		}
	}
	return nil
}

func (s *Store) indexDDL(t TableSpec) []string {
	name := s.Table(t.Base)
	var out []string
	if t.Versioned {
		out = append(out,
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (id) WHERE _old_rev_of IS NULL", s.CurrentIndexName(t.Base), name),
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s__old_rev_of_idx ON %s (_old_rev_of)", name, name),
		)
	}
	for _, col := range t.Unique {
		out = append(out, fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s_%s_key ON %s (%s)", name, col, name, col))
	}
	if s.IsPostgres() {
		for _, col := range t.GIN {
			out = append(out, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_%s_gin ON %s USING GIN (%s)", name, col, name, col))
		}
	}
	return out
}

func (s *Store) foreignKeyDDL(base string, fk ForeignKey) string {
	onDelete := ""
	if fk.Cascade {
		onDelete = " ON DELETE CASCADE"
	}
	return fmt.Sprintf(`DO $$ BEGIN
	ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (id)%s;
EXCEPTION WHEN duplicate_object THEN NULL;
END $$`, s.Table(base), s.ForeignKeyName(base, fk.Column), fk.Column, s.Table(fk.RefTable), onDelete)
}
