package source

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process source, filled directly or from a dump directory.
type Memory struct {
	mu     sync.RWMutex
	tables map[string][]Record
	rnd    *rand.Rand
}

// NewMemory creates an empty source. seed drives Sample.
func NewMemory(seed int64) *Memory {
	return &Memory{tables: map[string][]Record{}, rnd: rand.New(rand.NewSource(seed))}
}

// Put adds records to table, replacing records with the same id.
func (m *Memory) Put(table string, recs ...Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.tables[table]
	pos := make(map[string]int, len(rows))
	for i, r := range rows {
		pos[r.ID()] = i
	}
	for _, r := range recs {
		if i, ok := pos[r.ID()]; ok && r.ID() != "" {
			rows[i] = r
			continue
		}
		pos[r.ID()] = len(rows)
		rows = append(rows, r)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].ID() < rows[j].ID() })
	m.tables[table] = rows
}

func (m *Memory) ListTables(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.tables))
	for t := range m.tables {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) Count(_ context.Context, table string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.tables[table])), nil
}

func (m *Memory) FetchBatch(_ context.Context, table string, offset, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := m.tables[table]
	if offset >= len(rows) {
		return nil, nil
	}
	end := offset + limit
	if end > len(rows) {
		end = len(rows)
	}
	out := make([]Record, end-offset)
	copy(out, rows[offset:end])
	return out, nil
}

func (m *Memory) Sample(_ context.Context, table string, n int) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.tables[table]
	if n >= len(rows) {
		return append([]Record(nil), rows...), nil
	}
	out := make([]Record, 0, n)
	for _, i := range m.rnd.Perm(len(rows))[:n] {
		out = append(out, rows[i])
	}
	return out, nil
}

func (m *Memory) Close(context.Context) error { return nil }

// LoadDump reads every <table>.ndjson file of dir, one JSON document per line.
func LoadDump(dir string, seed int64) (*Memory, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.ndjson"))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .ndjson files in %s", dir)
	}

	m := NewMemory(seed)
	for _, path := range files {
		table := strings.TrimSuffix(filepath.Base(path), ".ndjson")
		recs, err := readNDJSON(path)
		if err != nil {
			return nil, err
		}
		m.Put(table, recs...)
	}
	return m, nil
}

func readNDJSON(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Record
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(text))
		dec.UseNumber()
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		out = append(out, rec)
	}
	return out, sc.Err()
}
