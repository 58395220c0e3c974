package directory

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"outreach/internal/delivery"
	logx "outreach/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means driver default
}

// Store is the SQLite-backed directory. It implements delivery.Directory.
type Store struct {
	db  *sql.DB
	log logx.Logger
}

func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("directory path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &Store{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Upsert inserts or refreshes a recipient row keyed by normalized email.
// Status is only set on insert; an existing row keeps its delivery state.
func (s *Store) Upsert(ctx context.Context, r Recipient) error {
	email := NormalizeEmail(r.Email)
	if email == "" {
		return fmt.Errorf("unusable email %q", r.Email)
	}
	st := r.Status
	if !st.Valid() {
		st = delivery.StatusPending
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recipients(email, name, company_type, locality, status, status_changed_at)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(email) DO UPDATE SET
		   name=excluded.name, company_type=excluded.company_type, locality=excluded.locality`,
		email, r.Name, r.CompanyType, r.Locality, string(st), time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// ListByStatus returns recipients in a stable order (name, then email).
// limit <= 0 means no limit.
func (s *Store) ListByStatus(ctx context.Context, st delivery.Status, limit int) ([]Recipient, error) {
	q := `SELECT id, email, name, company_type, locality, status, status_changed_at
	      FROM recipients WHERE status = ? ORDER BY name, email`
	args := []any{string(st)}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Recipient
	for rows.Next() {
		r, err := scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateStatus flips one recipient's delivery state. Part of
// delivery.Directory.
func (s *Store) UpdateStatus(ctx context.Context, email string, st delivery.Status) error {
	if !st.Valid() {
		return fmt.Errorf("invalid status %q", string(st))
	}
	email = NormalizeEmail(email)
	res, err := s.db.ExecContext(ctx,
		`UPDATE recipients SET status = ?, status_changed_at = ? WHERE email = ?`,
		string(st), time.Now().UTC().Format(time.RFC3339), email,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no recipient with email %q", email)
	}
	return nil
}

// BulkResetStatus moves every recipient in from to to. Part of
// delivery.Directory; this is what the monthly recontact uses.
func (s *Store) BulkResetStatus(ctx context.Context, from, to delivery.Status) (int64, error) {
	if !from.Valid() || !to.Valid() {
		return 0, fmt.Errorf("invalid status transition %q -> %q", string(from), string(to))
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE recipients SET status = ?, status_changed_at = ? WHERE status = ?`,
		string(to), time.Now().UTC().Format(time.RFC3339), string(from),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ReadStatuses returns every recipient's current state keyed by email.
// Part of delivery.Directory.
func (s *Store) ReadStatuses(ctx context.Context) (map[string]delivery.Status, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT email, status FROM recipients`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]delivery.Status{}
	for rows.Next() {
		var email, raw string
		if err := rows.Scan(&email, &raw); err != nil {
			return nil, err
		}
		st, err := delivery.ParseStatus(raw)
		if err != nil {
			// Foreign rows with unexpected codes are surfaced as-is
			// rather than dropped.
			st = delivery.Status(raw)
		}
		out[email] = st
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecipient(rs rowScanner) (Recipient, error) {
	var (
		r       Recipient
		raw     string
		changed sql.NullString
	)
	if err := rs.Scan(&r.ID, &r.Email, &r.Name, &r.CompanyType, &r.Locality, &raw, &changed); err != nil {
		return Recipient{}, err
	}
	r.Status = delivery.Status(raw)
	if changed.Valid {
		if t, err := time.Parse(time.RFC3339, changed.String); err == nil {
			r.StatusChangedAt = t
		}
	}
	return r, nil
}
