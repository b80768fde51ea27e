// Package audit keeps an append-only JSONL log of batch runs so the outcome
// of every lifetime update can be traced after the fact.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// ParamResult is the outcome of one parameter within a run.
type ParamResult struct {
	Outcome string `json:"outcome"`
	Added   int    `json:"added"`
	Removed int    `json:"removed"`
	Error   string `json:"error,omitempty"`
	// Diagnostics lists degraded estimates as human readable lines.
	Diagnostics []string `json:"diagnostics,omitempty"`
}

// Record captures one batch run.
type Record struct {
	RunID      string                 `json:"run_id"`
	Timestamp  time.Time              `json:"timestamp"`
	Technology string                 `json:"technology"`
	Nodes      []string               `json:"nodes"`
	Skipped    []string               `json:"skipped,omitempty"`
	Lifetime   *float64               `json:"lifetime,omitempty"`
	DryRun     bool                   `json:"dry_run"`
	CommitID   string                 `json:"commit_id,omitempty"`
	Results    map[string]ParamResult `json:"results"`
}

// Query filters records. Zero values match everything.
type Query struct {
	Start      time.Time
	End        time.Time
	Technology string
	RunID      string
}

func (q Query) match(r Record) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if q.Technology != "" && r.Technology != q.Technology {
		return false
	}
	return q.RunID == "" || r.RunID == q.RunID
}

// Store persists run records.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Query(ctx context.Context, q Query) ([]Record, error)
	Close() error
}

// Options control file rotation, in megabytes and days.
type Options struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// JSONLStore appends records to a rotating JSONL file.
type JSONLStore struct {
	mu   sync.Mutex
	out  *lumberjack.Logger
	path string
}

// NewJSONLStore creates the parent directory of path and returns a store
// writing to it.
func NewJSONLStore(path string, opts Options) (*JSONLStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
	}
	return &JSONLStore{out: lj, path: path}, nil
}

// Append writes the record and triggers rotation if needed.
func (s *JSONLStore) Append(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.NewEncoder(s.out).Encode(rec)
}

// Query reads the active file and its rotated backups, oldest record first.
func (s *JSONLStore) Query(_ context.Context, q Query) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	files, err := s.files()
	if err != nil {
		return nil, err
	}
	var res []Record
	for _, f := range files {
		recs, err := readFile(f, q)
		if err != nil {
			return nil, err
		}
		res = append(res, recs...)
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].Timestamp.Before(res[j].Timestamp) })
	return res, nil
}

// files returns the active log plus backups named <name>-<timestamp><ext>.
func (s *JSONLStore) files() ([]string, error) {
	ext := filepath.Ext(s.path)
	prefix := strings.TrimSuffix(s.path, ext)
	backups, err := filepath.Glob(prefix + "-*" + ext)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(s.path); err == nil {
		backups = append(backups, s.path)
	}
	return backups, nil
}

func readFile(path string, q Query) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	var res []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var r Record
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			continue
		}
		if q.match(r) {
			res = append(res, r)
		}
	}
	return res, scanner.Err()
}

// Close closes the current log file.
func (s *JSONLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.Close()
}

// NopStore discards records.
type NopStore struct{}

func (NopStore) Append(context.Context, Record) error           { return nil }
func (NopStore) Query(context.Context, Query) ([]Record, error) { return nil, nil }
func (NopStore) Close() error                                   { return nil }
