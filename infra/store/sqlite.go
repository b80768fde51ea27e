package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/kilianp07/lifespan/core/model"
	corestore "github.com/kilianp07/lifespan/core/store"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS years (
    year INTEGER PRIMARY KEY,
    duration INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS parameters (
    name TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    extra TEXT NOT NULL DEFAULT '',
    vintage_specific INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS parameter_rows (
    param TEXT NOT NULL,
    node TEXT NOT NULL,
    technology TEXT NOT NULL,
    extra TEXT NOT NULL DEFAULT '',
    year_vtg INTEGER NOT NULL DEFAULT 0,
    year_act INTEGER NOT NULL DEFAULT 0,
    year_rel INTEGER NOT NULL DEFAULT 0,
    value TEXT NOT NULL,
    unit TEXT NOT NULL DEFAULT '',
    PRIMARY KEY(param, node, technology, extra, year_vtg, year_act, year_rel)
);
CREATE TABLE IF NOT EXISTS vintage_activity (
    node TEXT NOT NULL,
    technology TEXT NOT NULL,
    year_vtg INTEGER NOT NULL,
    year_act INTEGER NOT NULL,
    PRIMARY KEY(node, technology, year_vtg, year_act)
);
CREATE TABLE IF NOT EXISTS commits (
    id TEXT PRIMARY KEY,
    message TEXT NOT NULL,
    ts INTEGER NOT NULL
);`

// SQLiteStore persists a scenario in a SQLite database. Writes are staged in
// a transaction opened on the first write and applied by Commit.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
	tx *sql.Tx
}

// NewSQLiteStore opens or creates the database at path and ensures schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
		}
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// SetHorizon replaces the year set and period durations.
func (s *SQLiteStore) SetHorizon(ctx context.Context, years []int, durations map[int]int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM years`); err != nil {
		return err
	}
	for _, y := range years {
		if _, err := tx.ExecContext(ctx, `INSERT INTO years (year, duration) VALUES (?, ?)`, y, durations[y]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// DefineParameter registers or replaces a parameter schema.
func (s *SQLiteStore) DefineParameter(ctx context.Context, schema model.Schema) error {
	if _, err := model.Empty(schema); err != nil {
		return err
	}
	specific := 0
	if schema.VintageSpecific {
		specific = 1
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO parameters (name, kind, extra, vintage_specific)
        VALUES (?, ?, ?, ?)
        ON CONFLICT(name) DO UPDATE SET
            kind = excluded.kind,
            extra = excluded.extra,
            vintage_specific = excluded.vintage_specific`,
		schema.Name, schema.Kind.String(), strings.Join(schema.Extra, ","), specific)
	return err
}

// SetValidPairs replaces the oracle pairs of a node and technology.
func (s *SQLiteStore) SetValidPairs(ctx context.Context, node, tech string, pairs []model.Pair) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM vintage_activity WHERE node = ? AND technology = ?`, node, tech); err != nil {
		return err
	}
	for _, p := range pairs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO vintage_activity (node, technology, year_vtg, year_act)
            VALUES (?, ?, ?, ?)`, node, tech, p.Vintage, p.Activity); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Seed inserts committed rows directly, bypassing staging.
func (s *SQLiteStore) Seed(ctx context.Context, name string, rows []model.Row) error {
	if _, err := s.schema(ctx, name); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := upsertRows(ctx, tx, name, rows); err != nil {
		return err
	}
	return tx.Commit()
}

// YearSet returns the ordered model years.
func (s *SQLiteStore) YearSet(ctx context.Context) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT year FROM years ORDER BY year`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []int
	for rows.Next() {
		var y int
		if err := rows.Scan(&y); err != nil {
			return nil, err
		}
		out = append(out, y)
	}
	return out, rows.Err()
}

// DurationPeriod returns the period length of each year.
func (s *SQLiteStore) DurationPeriod(ctx context.Context) (map[int]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT year, duration FROM years`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := map[int]int{}
	for rows.Next() {
		var y, d int
		if err := rows.Scan(&y, &d); err != nil {
			return nil, err
		}
		out[y] = d
	}
	return out, rows.Err()
}

func (s *SQLiteStore) schema(ctx context.Context, name string) (model.Schema, error) {
	var kind, extra string
	var specific int
	err := s.db.QueryRowContext(ctx, `SELECT kind, extra, vintage_specific FROM parameters WHERE name = ?`, name).
		Scan(&kind, &extra, &specific)
	if err == sql.ErrNoRows {
		return model.Schema{}, fmt.Errorf("%w: %s", corestore.ErrUnknownParameter, name)
	}
	if err != nil {
		return model.Schema{}, err
	}
	k, err := model.ParseKind(kind)
	if err != nil {
		return model.Schema{}, err
	}
	sc := model.Schema{Name: name, Kind: k, VintageSpecific: specific == 1}
	if extra != "" {
		sc.Extra = strings.Split(extra, ",")
	}
	return sc, nil
}

// ParameterTable returns the committed rows of name matching f.
func (s *SQLiteStore) ParameterTable(ctx context.Context, name string, f corestore.Filter) (model.Param, error) {
	sc, err := s.schema(ctx, name)
	if err != nil {
		return nil, err
	}
	query := `SELECT node, technology, extra, year_vtg, year_act, year_rel, value, unit
        FROM parameter_rows WHERE param = ?`
	args := []any{name}
	query, args = inClause(query, "node", f.Nodes, args)
	query, args = inClause(query, "technology", f.Technologies, args)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []model.Row
	for rows.Next() {
		var r model.Row
		var extra, value string
		if err := rows.Scan(&r.Node, &r.Technology, &extra, &r.Vintage, &r.Activity, &r.Relation, &value, &r.Unit); err != nil {
			return nil, err
		}
		r.Extra = model.Dims{Extra: extra}.ExtraValues()
		if r.Value, err = strconv.ParseFloat(value, 64); err != nil {
			return nil, fmt.Errorf("parse %s value %q: %w", name, value, err)
		}
		res = append(res, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return model.FromRows(sc, res)
}

func inClause(query, column string, values []string, args []any) (string, []any) {
	if len(values) == 0 {
		return query, args
	}
	query += ` AND ` + column + ` IN (?` + strings.Repeat(`, ?`, len(values)-1) + `)`
	for _, v := range values {
		args = append(args, v)
	}
	return query, args
}

// ValidPairs returns the oracle pairs of a node and technology.
func (s *SQLiteStore) ValidPairs(ctx context.Context, node, tech string) ([]model.Pair, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT year_vtg, year_act FROM vintage_activity
        WHERE node = ? AND technology = ? ORDER BY year_vtg, year_act`, node, tech)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.Pair
	for rows.Next() {
		var p model.Pair
		if err := rows.Scan(&p.Vintage, &p.Activity); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Technologies lists the (node, technology) pairs present in lifetimeParam.
func (s *SQLiteStore) Technologies(ctx context.Context, lifetimeParam string) ([]model.Dims, error) {
	if _, err := s.schema(ctx, lifetimeParam); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT node, technology FROM parameter_rows
        WHERE param = ? ORDER BY node, technology`, lifetimeParam)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.Dims
	for rows.Next() {
		var d model.Dims
		if err := rows.Scan(&d.Node, &d.Technology); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) begin(ctx context.Context) (*sql.Tx, error) {
	if s.tx != nil {
		return s.tx, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	s.tx = tx
	return tx, nil
}

// RemoveRows stages the removal of rows.
func (s *SQLiteStore) RemoveRows(ctx context.Context, name string, rows []model.Row) error {
	if _, err := s.schema(ctx, name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	for _, r := range rows {
		d := r.Dims()
		if _, err := tx.ExecContext(ctx, `DELETE FROM parameter_rows
            WHERE param = ? AND node = ? AND technology = ? AND extra = ?
            AND year_vtg = ? AND year_act = ? AND year_rel = ?`,
			name, d.Node, d.Technology, d.Extra, r.Vintage, r.Activity, r.Relation); err != nil {
			return err
		}
	}
	return nil
}

// AddRows stages the insertion of rows, replacing rows with the same key.
func (s *SQLiteStore) AddRows(ctx context.Context, name string, rows []model.Row) error {
	if _, err := s.schema(ctx, name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	return upsertRows(ctx, tx, name, rows)
}

func upsertRows(ctx context.Context, tx *sql.Tx, name string, rows []model.Row) error {
	for _, r := range rows {
		d := r.Dims()
		if _, err := tx.ExecContext(ctx, `INSERT INTO parameter_rows
            (param, node, technology, extra, year_vtg, year_act, year_rel, value, unit)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
            ON CONFLICT(param, node, technology, extra, year_vtg, year_act, year_rel) DO UPDATE SET
                value = excluded.value,
                unit = excluded.unit`,
			name, d.Node, d.Technology, d.Extra, r.Vintage, r.Activity, r.Relation,
			strconv.FormatFloat(r.Value, 'g', -1, 64), r.Unit); err != nil {
			return err
		}
	}
	return nil
}

// Commit applies the staged transaction and records the commit.
func (s *SQLiteStore) Commit(ctx context.Context, message string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.begin(ctx)
	if err != nil {
		return "", err
	}
	s.tx = nil
	id := uuid.NewString()
	if _, err := tx.ExecContext(ctx, `INSERT INTO commits (id, message, ts) VALUES (?, ?, ?)`,
		id, message, time.Now().Unix()); err != nil {
		_ = tx.Rollback()
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

// Discard rolls back staged writes.
func (s *SQLiteStore) Discard(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return nil
	}
	err := s.tx.Rollback()
	s.tx = nil
	return err
}

// Commits returns the recorded commits, oldest first.
func (s *SQLiteStore) Commits(ctx context.Context) ([]CommitRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, message, ts FROM commits ORDER BY ts, rowid`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []CommitRecord
	for rows.Next() {
		var c CommitRecord
		var ts int64
		if err := rows.Scan(&c.ID, &c.Message, &ts); err != nil {
			return nil, err
		}
		c.Time = time.Unix(ts, 0).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

// Close discards staged writes and closes the database.
func (s *SQLiteStore) Close() error {
	_ = s.Discard(context.Background())
	return s.db.Close()
}
