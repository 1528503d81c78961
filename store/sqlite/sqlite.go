/*
Package sqlite provides a SQLite-backed implementation of claims.TxStore.

PURPOSE:
  Implements the persistence interfaces for students, claims,
  certificates and the per-category certificate counters using SQLite.
  In production the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

KEY TABLES:
  students:             Student records with the denormalized ledger total
  credit_balances:      One row per (student, category) balance
  claims:               Claim records; status column is the enum source
                        of truth, approvals stored as JSON sub-records
  certificates:         Minted certificates, UNIQUE(claim_id) enforces
                        the one-to-one back-reference at the storage level
  certificate_counters: Per-category monotonic sequence

INVARIANT-ENFORCING INDEXES:
  - certificates.claim_id UNIQUE:           at most one certificate per claim
  - certificates(category_key, seq) UNIQUE: no duplicate sequence numbers
  - certificates.number UNIQUE:             no duplicate public numbers
  These back up the application-level guarantees; a race that slips past
  the locking fails loudly here instead of corrupting data.

COUNTER SEMANTICS:
  NextCertificateSequence uses INSERT ... ON CONFLICT DO UPDATE ...
  RETURNING, which is an atomic increment-and-read. Inside WithTx the
  increment rolls back with the transaction, so aborted finalizations
  leave no gaps.

CONCURRENCY:
  Uses sync.Mutex around writes plus database transactions for
  atomicity. In production with PostgreSQL, database-level concurrency
  control (row locks, SERIALIZABLE) replaces the process-level mutex.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging): readers don't block,
  single writer at a time, better crash recovery.

USAGE:
  store, err := sqlite.New("./data/claims.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - claims/store.go: Interface contracts
  - store/memory: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/bprnd/certification-engine/claims"
	"github.com/bprnd/certification-engine/ledger"
)

// Store implements claims.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps the in-memory database coherent and
	// sidesteps SQLITE_BUSY on the file-backed one.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS students (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		org_id TEXT NOT NULL DEFAULT '',
		total_credits TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS credit_balances (
		student_id TEXT NOT NULL,
		category_key TEXT NOT NULL,
		balance TEXT NOT NULL,
		PRIMARY KEY (student_id, category_key)
	);

	CREATE TABLE IF NOT EXISTS claims (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		org_id TEXT NOT NULL DEFAULT '',
		category_key TEXT NOT NULL,
		qualification_level TEXT NOT NULL,
		required_credits TEXT NOT NULL,
		courses_json TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		poc_approval_json TEXT,
		admin_approval_json TEXT,
		finalized_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_claims_student ON claims(student_id);
	CREATE INDEX IF NOT EXISTS idx_claims_org ON claims(org_id);
	CREATE INDEX IF NOT EXISTS idx_claims_status ON claims(status);

	CREATE TABLE IF NOT EXISTS certificates (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		category_key TEXT NOT NULL,
		qualification_level TEXT NOT NULL,
		claim_id TEXT NOT NULL UNIQUE,
		seq INTEGER NOT NULL,
		number TEXT NOT NULL UNIQUE,
		issued_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_certificates_category_seq
		ON certificates(category_key, seq);
	CREATE INDEX IF NOT EXISTS idx_certificates_student
		ON certificates(student_id);

	CREATE TABLE IF NOT EXISTS certificate_counters (
		category_key TEXT PRIMARY KEY,
		seq INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Reset drops all data. Used by the demo scenario loaders; never call
// this in production.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{
		"students", "credit_balances", "claims", "certificates", "certificate_counters",
	} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// executor is satisfied by *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// STUDENTS
// =============================================================================

func (s *Store) GetStudent(ctx context.Context, id ledger.StudentID) (*ledger.Student, error) {
	return s.getStudent(ctx, s.db, id)
}

func (s *Store) getStudent(ctx context.Context, ex executor, id ledger.StudentID) (*ledger.Student, error) {
	row := ex.QueryRowContext(ctx, `
		SELECT id, name, email, org_id, total_credits, created_at
		FROM students WHERE id = ?`, id)

	var st ledger.Student
	var total, createdAt string
	if err := row.Scan(&st.ID, &st.Name, &st.Email, &st.OrgID, &total, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get student: %w", err)
	}

	st.Credits = ledger.NewCreditLedger()
	rows, err := ex.QueryContext(ctx, `
		SELECT category_key, balance FROM credit_balances WHERE student_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load balances: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var category, balance string
		if err := rows.Scan(&category, &balance); err != nil {
			return nil, err
		}
		b, err := decimal.NewFromString(balance)
		if err != nil {
			return nil, fmt.Errorf("corrupt balance for %s/%s: %w", id, category, err)
		}
		st.Credits.Balances[category] = b
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Total is derived; recompute rather than trusting the stored copy.
	st.Credits.Recompute()

	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		st.CreatedAt = t
	}
	return &st, nil
}

func (s *Store) SaveStudent(ctx context.Context, st ledger.Student) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.saveStudent(ctx, tx, st); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) saveStudent(ctx context.Context, ex executor, st ledger.Student) error {
	createdAt := st.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := ex.ExecContext(ctx, `
		INSERT INTO students (id, name, email, org_id, total_credits, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			org_id = excluded.org_id,
			total_credits = excluded.total_credits`,
		st.ID, st.Name, st.Email, st.OrgID, st.Credits.Total.String(),
		createdAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save student: %w", err)
	}

	if _, err := ex.ExecContext(ctx, `DELETE FROM credit_balances WHERE student_id = ?`, st.ID); err != nil {
		return fmt.Errorf("failed to clear balances: %w", err)
	}
	for category, balance := range st.Credits.Balances {
		if _, err := ex.ExecContext(ctx, `
			INSERT INTO credit_balances (student_id, category_key, balance)
			VALUES (?, ?, ?)`, st.ID, category, balance.String()); err != nil {
			return fmt.Errorf("failed to save balance: %w", err)
		}
	}
	return nil
}

func (s *Store) ListStudents(ctx context.Context) ([]ledger.Student, error) {
	return s.listStudents(ctx, s.db)
}

func (s *Store) listStudents(ctx context.Context, ex executor) ([]ledger.Student, error) {
	rows, err := ex.QueryContext(ctx, `SELECT id FROM students ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list students: %w", err)
	}
	defer rows.Close()

	var ids []ledger.StudentID
	for rows.Next() {
		var id ledger.StudentID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]ledger.Student, 0, len(ids))
	for _, id := range ids {
		st, err := s.getStudent(ctx, ex, id)
		if err != nil {
			return nil, err
		}
		if st != nil {
			out = append(out, *st)
		}
	}
	return out, nil
}

// =============================================================================
// CLAIMS
// =============================================================================

const claimColumns = `id, student_id, org_id, category_key, qualification_level,
	required_credits, courses_json, status, poc_approval_json,
	admin_approval_json, finalized_at, created_at, updated_at`

func (s *Store) GetClaim(ctx context.Context, id claims.ClaimID) (*claims.Claim, error) {
	return s.getClaim(ctx, s.db, id)
}

func (s *Store) getClaim(ctx context.Context, ex executor, id claims.ClaimID) (*claims.Claim, error) {
	row := ex.QueryRowContext(ctx,
		`SELECT `+claimColumns+` FROM claims WHERE id = ?`, id)
	c, err := scanClaim(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get claim: %w", err)
	}
	return c, nil
}

func scanClaim(scan func(dest ...any) error) (*claims.Claim, error) {
	var c claims.Claim
	var required string
	var coursesJSON, pocJSON, adminJSON, finalizedAt sql.NullString
	var createdAt, updatedAt string

	err := scan(&c.ID, &c.StudentID, &c.OrgID, &c.CategoryKey, &c.QualificationLevel,
		&required, &coursesJSON, &c.Status, &pocJSON, &adminJSON,
		&finalizedAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	c.RequiredCredits, err = decimal.NewFromString(required)
	if err != nil {
		return nil, fmt.Errorf("corrupt required_credits for %s: %w", c.ID, err)
	}
	if coursesJSON.Valid && coursesJSON.String != "" {
		if err := json.Unmarshal([]byte(coursesJSON.String), &c.Courses); err != nil {
			return nil, fmt.Errorf("corrupt courses for %s: %w", c.ID, err)
		}
	}
	if pocJSON.Valid && pocJSON.String != "" {
		var a claims.Approval
		if err := json.Unmarshal([]byte(pocJSON.String), &a); err != nil {
			return nil, fmt.Errorf("corrupt poc approval for %s: %w", c.ID, err)
		}
		c.POCApproval = &a
	}
	if adminJSON.Valid && adminJSON.String != "" {
		var a claims.Approval
		if err := json.Unmarshal([]byte(adminJSON.String), &a); err != nil {
			return nil, fmt.Errorf("corrupt admin approval for %s: %w", c.ID, err)
		}
		c.AdminApproval = &a
	}
	if finalizedAt.Valid && finalizedAt.String != "" {
		if t, err := time.Parse(time.RFC3339, finalizedAt.String); err == nil {
			c.FinalizedAt = &t
		}
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		c.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		c.UpdatedAt = t
	}
	return &c, nil
}

func (s *Store) SaveClaim(ctx context.Context, c claims.Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveClaim(ctx, s.db, c)
}

func (s *Store) saveClaim(ctx context.Context, ex executor, c claims.Claim) error {
	coursesJSON, err := json.Marshal(c.Courses)
	if err != nil {
		return err
	}
	var pocJSON, adminJSON, finalizedAt any
	if c.POCApproval != nil {
		b, err := json.Marshal(c.POCApproval)
		if err != nil {
			return err
		}
		pocJSON = string(b)
	}
	if c.AdminApproval != nil {
		b, err := json.Marshal(c.AdminApproval)
		if err != nil {
			return err
		}
		adminJSON = string(b)
	}
	if c.FinalizedAt != nil {
		finalizedAt = c.FinalizedAt.Format(time.RFC3339)
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO claims (`+claimColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			poc_approval_json = excluded.poc_approval_json,
			admin_approval_json = excluded.admin_approval_json,
			finalized_at = excluded.finalized_at,
			updated_at = excluded.updated_at`,
		c.ID, c.StudentID, c.OrgID, c.CategoryKey, c.QualificationLevel,
		c.RequiredCredits.String(), string(coursesJSON), c.Status,
		pocJSON, adminJSON, finalizedAt,
		c.CreatedAt.Format(time.RFC3339), c.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save claim: %w", err)
	}
	return nil
}

func (s *Store) ListClaims(ctx context.Context, filter claims.ClaimFilter) ([]claims.Claim, error) {
	return s.listClaims(ctx, s.db, filter)
}

func (s *Store) listClaims(ctx context.Context, ex executor, filter claims.ClaimFilter) ([]claims.Claim, error) {
	// Filtering is delegated to ClaimFilter.Matches so the semantics
	// cannot diverge from the memory store.
	rows, err := ex.QueryContext(ctx,
		`SELECT `+claimColumns+` FROM claims ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}
	defer rows.Close()

	var out []claims.Claim
	for rows.Next() {
		c, err := scanClaim(rows.Scan)
		if err != nil {
			return nil, err
		}
		if filter.Matches(c) {
			out = append(out, *c)
		}
	}
	return out, rows.Err()
}

func (s *Store) TransitionStatus(ctx context.Context, id claims.ClaimID, from, to claims.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionStatus(ctx, s.db, id, from, to)
}

func (s *Store) transitionStatus(ctx context.Context, ex executor, id claims.ClaimID, from, to claims.Status) error {
	res, err := ex.ExecContext(ctx,
		`UPDATE claims SET status = ? WHERE id = ? AND status = ?`, to, id, from)
	if err != nil {
		return fmt.Errorf("failed to transition status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Compare-and-set lost: absent claim or changed status.
		existing, err := s.getClaim(ctx, ex, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return claims.ErrClaimNotFound
		}
		return claims.ErrConcurrencyConflict
	}
	return nil
}

// =============================================================================
// CERTIFICATES
// =============================================================================

const certColumns = `id, student_id, category_key, qualification_level,
	claim_id, seq, number, issued_at`

func (s *Store) GetCertificate(ctx context.Context, id claims.CertificateID) (*claims.Certificate, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+certColumns+` FROM certificates WHERE id = ?`, id)
	return scanCertificate(row.Scan)
}

func (s *Store) CertificateForClaim(ctx context.Context, claimID claims.ClaimID) (*claims.Certificate, error) {
	return s.certificateForClaim(ctx, s.db, claimID)
}

func (s *Store) certificateForClaim(ctx context.Context, ex executor, claimID claims.ClaimID) (*claims.Certificate, error) {
	row := ex.QueryRowContext(ctx,
		`SELECT `+certColumns+` FROM certificates WHERE claim_id = ?`, claimID)
	return scanCertificate(row.Scan)
}

func scanCertificate(scan func(dest ...any) error) (*claims.Certificate, error) {
	var c claims.Certificate
	var issuedAt string
	err := scan(&c.ID, &c.StudentID, &c.CategoryKey, &c.QualificationLevel,
		&c.ClaimID, &c.Sequence, &c.Number, &issuedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan certificate: %w", err)
	}
	if t, err := time.Parse(time.RFC3339, issuedAt); err == nil {
		c.IssuedAt = t
	}
	return &c, nil
}

func (s *Store) SaveCertificate(ctx context.Context, cert claims.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveCertificate(ctx, s.db, cert)
}

func (s *Store) saveCertificate(ctx context.Context, ex executor, cert claims.Certificate) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO certificates (`+certColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		cert.ID, cert.StudentID, cert.CategoryKey, cert.QualificationLevel,
		cert.ClaimID, cert.Sequence, cert.Number,
		cert.IssuedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save certificate: %w", err)
	}
	return nil
}

func (s *Store) ListCertificates(ctx context.Context, filter claims.CertificateFilter) ([]claims.Certificate, error) {
	return s.listCertificates(ctx, s.db, filter)
}

func (s *Store) listCertificates(ctx context.Context, ex executor, filter claims.CertificateFilter) ([]claims.Certificate, error) {
	rows, err := ex.QueryContext(ctx,
		`SELECT `+certColumns+` FROM certificates ORDER BY category_key ASC, seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list certificates: %w", err)
	}
	defer rows.Close()

	var out []claims.Certificate
	for rows.Next() {
		c, err := scanCertificate(rows.Scan)
		if err != nil {
			return nil, err
		}
		if filter.Matches(c) {
			out = append(out, *c)
		}
	}
	return out, rows.Err()
}

func (s *Store) NextCertificateSequence(ctx context.Context, categoryKey string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextSequence(ctx, s.db, categoryKey)
}

func (s *Store) nextSequence(ctx context.Context, ex executor, categoryKey string) (int64, error) {
	// Atomic increment-and-read. Inside a transaction the increment
	// rolls back with everything else.
	row := ex.QueryRowContext(ctx, `
		INSERT INTO certificate_counters (category_key, seq) VALUES (?, 1)
		ON CONFLICT(category_key) DO UPDATE SET seq = seq + 1
		RETURNING seq`, categoryKey)

	var seq int64
	if err := row.Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to increment counter: %w", err)
	}
	return seq, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn inside a database transaction, serialized by the
// store mutex. All writes commit together or roll back together.
func (s *Store) WithTx(ctx context.Context, fn func(claims.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&txStore{parent: s, tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// txStore routes claims.Store calls through an open *sql.Tx.
type txStore struct {
	parent *Store
	tx     *sql.Tx
}

func (t *txStore) GetStudent(ctx context.Context, id ledger.StudentID) (*ledger.Student, error) {
	return t.parent.getStudent(ctx, t.tx, id)
}

func (t *txStore) SaveStudent(ctx context.Context, st ledger.Student) error {
	return t.parent.saveStudent(ctx, t.tx, st)
}

func (t *txStore) ListStudents(ctx context.Context) ([]ledger.Student, error) {
	return t.parent.listStudents(ctx, t.tx)
}

func (t *txStore) GetClaim(ctx context.Context, id claims.ClaimID) (*claims.Claim, error) {
	return t.parent.getClaim(ctx, t.tx, id)
}

func (t *txStore) SaveClaim(ctx context.Context, c claims.Claim) error {
	return t.parent.saveClaim(ctx, t.tx, c)
}

func (t *txStore) ListClaims(ctx context.Context, filter claims.ClaimFilter) ([]claims.Claim, error) {
	return t.parent.listClaims(ctx, t.tx, filter)
}

func (t *txStore) TransitionStatus(ctx context.Context, id claims.ClaimID, from, to claims.Status) error {
	return t.parent.transitionStatus(ctx, t.tx, id, from, to)
}

func (t *txStore) GetCertificate(ctx context.Context, id claims.CertificateID) (*claims.Certificate, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+certColumns+` FROM certificates WHERE id = ?`, id)
	return scanCertificate(row.Scan)
}

func (t *txStore) CertificateForClaim(ctx context.Context, claimID claims.ClaimID) (*claims.Certificate, error) {
	return t.parent.certificateForClaim(ctx, t.tx, claimID)
}

func (t *txStore) SaveCertificate(ctx context.Context, cert claims.Certificate) error {
	return t.parent.saveCertificate(ctx, t.tx, cert)
}

func (t *txStore) ListCertificates(ctx context.Context, filter claims.CertificateFilter) ([]claims.Certificate, error) {
	return t.parent.listCertificates(ctx, t.tx, filter)
}

func (t *txStore) NextCertificateSequence(ctx context.Context, categoryKey string) (int64, error) {
	return t.parent.nextSequence(ctx, t.tx, categoryKey)
}
