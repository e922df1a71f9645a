package devserver

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"querychat/internal/api"
	"querychat/internal/schema"
)

// Store executes SQL against a sqlite database on behalf of /api/sql.
type Store struct {
	db  *sql.DB
	log *zap.Logger
	mu  sync.Mutex
}

// OpenStore opens the sqlite file at path. An empty path is a private
// in-memory database, pinned to one connection so every query sees it.
func OpenStore(path string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if path == "" {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Seed creates and fills the demo players table. Running it twice is fine.
func (s *Store) Seed(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS players (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			team TEXT,
			position TEXT,
			goals INTEGER,
			assists INTEGER,
			rating REAL
		);`,
		`INSERT OR IGNORE INTO players (id, name, team, position, goals, assists, rating) VALUES
			(1, 'Ada Kovac', 'Riverside', 'FW', 21, 7, 8.4),
			(2, 'Bruno Salis', 'Riverside', 'MF', 9, 14, 7.9),
			(3, 'Chen Wei', 'Northgate', 'FW', 17, 5, 7.7),
			(4, 'Dara Okafor', 'Northgate', 'DF', 2, 3, 7.1),
			(5, 'Emil Strand', 'Harbor FC', 'MF', 11, 11, 7.6),
			(6, 'Farah Nadim', 'Harbor FC', 'FW', 14, 2, NULL),
			(7, 'Goran Petek', 'Eastfield', 'GK', 0, 0, 6.8),
			(8, 'Hana Ito', 'Eastfield', 'FW', 19, 9, 8.1);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("seed schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Tables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// Describe renders each table as name(col TYPE, ...), one per line.
func (s *Store) Describe(ctx context.Context) (string, error) {
	tables, err := s.Tables(ctx)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, t := range tables {
		rows, err := s.db.QueryContext(ctx, `SELECT name, type FROM pragma_table_info(?)`, t)
		if err != nil {
			return "", fmt.Errorf("describe %s: %w", t, err)
		}
		var cols []string
		for rows.Next() {
			var name, typ string
			if err := rows.Scan(&name, &typ); err != nil {
				rows.Close()
				return "", fmt.Errorf("scan column: %w", err)
			}
			cols = append(cols, strings.TrimSpace(name+" "+typ))
		}
		rows.Close()
		b.WriteString(t + "(" + strings.Join(cols, ", ") + ")\n")
	}
	return b.String(), nil
}

// Exec runs query and reports the outcome the way /api/sql returns it. SQL
// errors are results, not Go errors.
func (s *Store) Exec(ctx context.Context, query string) api.SQLResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ReturnsRows(query) {
		rows, err := s.query(ctx, query)
		if err != nil {
			s.log.Debug("query failed", zap.String("query", query), zap.Error(err))
			return api.SQLResult{Success: false, Error: err.Error()}
		}
		return api.SQLResult{Success: true, Data: rows}
	}

	res, err := s.db.ExecContext(ctx, query)
	if err != nil {
		s.log.Debug("statement failed", zap.String("query", query), zap.Error(err))
		return api.SQLResult{Success: false, Error: err.Error()}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return api.SQLResult{Success: true}
	}
	return api.SQLResult{Success: true, AffectedRows: &n}
}

func (s *Store) query(ctx context.Context, query string) ([]schema.Record, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []schema.Record
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := schema.NewRecord()
		for i, c := range cols {
			rec.Set(c, schema.FromAny(vals[i]))
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

var rowKeywords = map[string]bool{
	"SELECT":  true,
	"WITH":    true,
	"PRAGMA":  true,
	"EXPLAIN": true,
	"VALUES":  true,
}

var writeKeywords = map[string]bool{
	"INSERT":  true,
	"UPDATE":  true,
	"DELETE":  true,
	"REPLACE": true,
}

var returningRe = regexp.MustCompile(`(?i)\bRETURNING\b`)

// ReturnsRows reports whether query starts with a keyword whose statement
// yields a result set, or is a write with a RETURNING clause. Leading
// comments and parentheses are skipped.
func ReturnsRows(query string) bool {
	kw := firstKeyword(query)
	if rowKeywords[kw] {
		return true
	}
	return writeKeywords[kw] && returningRe.MatchString(query)
}

func firstKeyword(query string) string {
	q := strings.TrimSpace(query)
skip:
	for {
		switch {
		case strings.HasPrefix(q, "--"):
			i := strings.IndexByte(q, '\n')
			if i < 0 {
				return ""
			}
			q = strings.TrimSpace(q[i+1:])
		case strings.HasPrefix(q, "/*"):
			i := strings.Index(q, "*/")
			if i < 0 {
				return ""
			}
			q = strings.TrimSpace(q[i+2:])
		case strings.HasPrefix(q, "("):
			q = strings.TrimSpace(q[1:])
		default:
			break skip
		}
	}
	end := strings.IndexFunc(q, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z')
	})
	if end < 0 {
		end = len(q)
	}
	return strings.ToUpper(q[:end])
}
