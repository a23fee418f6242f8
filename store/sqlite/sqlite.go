/*
Package sqlite provides a SQLite-backed implementation of vorder.Store.

PURPOSE:
  Persists the PrisonerLedger aggregate. In production the same patterns
  apply to PostgreSQL - only minor SQL dialect differences.

AGGREGATE SAVE:
  SaveLedger runs one transaction per prisoner. The ledger row is upserted,
  the order and negative-order collections are rewritten (their statuses
  change in place and refunds delete negative rows), and history entries are
  INSERT OR IGNORE - history is append-only, so rows already present are
  left untouched and never updated or deleted.

KEY TABLES:
  prisoner_ledgers:      aggregate root, allocation dates
  visit_orders:          one row per order
  negative_visit_orders: one row per borrowed unit
  history_entries:       immutable audit log, ordered by seq

WAL MODE:
  SQLite is opened with WAL for better concurrency: multiple readers don't
  block, single writer at a time, better crash recovery.

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper migration
  tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - vorder/store.go: Interface definition
  - vorder/store/memory.go: In-memory implementation for testing
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

	"github.com/gatehouse/visit-order-engine/vorder"
)

// Store implements vorder.Store on SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

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
	CREATE TABLE IF NOT EXISTS prisoner_ledgers (
		prisoner_id TEXT PRIMARY KEY,
		last_vo_allocated_date TEXT,
		last_pvo_allocated_date TEXT
	);

	CREATE TABLE IF NOT EXISTS visit_orders (
		id TEXT PRIMARY KEY,
		prisoner_id TEXT NOT NULL REFERENCES prisoner_ledgers(prisoner_id) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		expiry_date TEXT,
		visit_ref TEXT,
		position INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_visit_orders_prisoner
		ON visit_orders(prisoner_id, kind, status);
	CREATE INDEX IF NOT EXISTS idx_visit_orders_visit_ref
		ON visit_orders(visit_ref) WHERE visit_ref != '';

	CREATE TABLE IF NOT EXISTS negative_visit_orders (
		id TEXT PRIMARY KEY,
		prisoner_id TEXT NOT NULL REFERENCES prisoner_ledgers(prisoner_id) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		repaid_at TEXT,
		visit_ref TEXT,
		position INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_negative_orders_prisoner
		ON negative_visit_orders(prisoner_id, kind, status);

	-- Append-only audit log: rows are inserted once and never touched again.
	CREATE TABLE IF NOT EXISTS history_entries (
		id TEXT PRIMARY KEY,
		prisoner_id TEXT NOT NULL REFERENCES prisoner_ledgers(prisoner_id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		change_type TEXT NOT NULL,
		actor TEXT NOT NULL,
		comment TEXT,
		vo_balance INTEGER NOT NULL,
		pvo_balance INTEGER NOT NULL,
		timestamp TEXT NOT NULL,
		correlation_ref TEXT,
		attributes_json TEXT,
		UNIQUE(prisoner_id, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_history_prisoner_time
		ON history_entries(prisoner_id, timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LOAD
// =============================================================================

// LoadLedger returns the full aggregate, or vorder.ErrLedgerNotFound.
func (s *Store) LoadLedger(ctx context.Context, prisonerID string) (*vorder.PrisonerLedger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ledger := vorder.NewPrisonerLedger(prisonerID)

	var lastVO, lastPVO sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT last_vo_allocated_date, last_pvo_allocated_date FROM prisoner_ledgers WHERE prisoner_id = ?`,
		prisonerID,
	).Scan(&lastVO, &lastPVO)
	if err == sql.ErrNoRows {
		return nil, vorder.ErrLedgerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}
	if ledger.LastVOAllocatedDate, err = parseNullTime(lastVO); err != nil {
		return nil, err
	}
	if ledger.LastPVOAllocatedDate, err = parseNullTime(lastPVO); err != nil {
		return nil, err
	}

	if ledger.VisitOrders, err = s.loadOrders(ctx, prisonerID); err != nil {
		return nil, err
	}
	if ledger.NegativeVisitOrders, err = s.loadNegatives(ctx, prisonerID); err != nil {
		return nil, err
	}
	if ledger.History, err = s.loadHistory(ctx, prisonerID); err != nil {
		return nil, err
	}
	return ledger, nil
}

func (s *Store) loadOrders(ctx context.Context, prisonerID string) ([]vorder.VisitOrder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, status, created_at, expiry_date, visit_ref
		FROM visit_orders WHERE prisoner_id = ? ORDER BY position ASC`, prisonerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load visit orders: %w", err)
	}
	defer rows.Close()

	var orders []vorder.VisitOrder
	for rows.Next() {
		var o vorder.VisitOrder
		var createdAt string
		var expiry, visitRef sql.NullString
		if err := rows.Scan(&o.ID, &o.Kind, &o.Status, &createdAt, &expiry, &visitRef); err != nil {
			return nil, err
		}
		o.PrisonerID = prisonerID
		if o.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if o.ExpiryDate, err = parseNullTime(expiry); err != nil {
			return nil, err
		}
		o.VisitRef = visitRef.String
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *Store) loadNegatives(ctx context.Context, prisonerID string) ([]vorder.NegativeVisitOrder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, status, created_at, repaid_at, visit_ref
		FROM negative_visit_orders WHERE prisoner_id = ? ORDER BY position ASC`, prisonerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load negative orders: %w", err)
	}
	defer rows.Close()

	var negatives []vorder.NegativeVisitOrder
	for rows.Next() {
		var n vorder.NegativeVisitOrder
		var createdAt string
		var repaidAt, visitRef sql.NullString
		if err := rows.Scan(&n.ID, &n.Kind, &n.Status, &createdAt, &repaidAt, &visitRef); err != nil {
			return nil, err
		}
		n.PrisonerID = prisonerID
		if n.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if n.RepaidAt, err = parseNullTime(repaidAt); err != nil {
			return nil, err
		}
		n.VisitRef = visitRef.String
		negatives = append(negatives, n)
	}
	return negatives, rows.Err()
}

func (s *Store) loadHistory(ctx context.Context, prisonerID string) ([]vorder.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, change_type, actor, comment, vo_balance, pvo_balance, timestamp, correlation_ref, attributes_json
		FROM history_entries WHERE prisoner_id = ? ORDER BY seq ASC`, prisonerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	var history []vorder.HistoryEntry
	for rows.Next() {
		var e vorder.HistoryEntry
		var timestamp string
		var comment, correlationRef, attrsJSON sql.NullString
		if err := rows.Scan(&e.ID, &e.Seq, &e.Type, &e.Actor, &comment, &e.VOBalance, &e.PVOBalance, &timestamp, &correlationRef, &attrsJSON); err != nil {
			return nil, err
		}
		e.PrisonerID = prisonerID
		e.Comment = comment.String
		e.CorrelationRef = correlationRef.String
		if e.Timestamp, err = parseTime(timestamp); err != nil {
			return nil, err
		}
		if attrsJSON.String != "" {
			_ = json.Unmarshal([]byte(attrsJSON.String), &e.Attributes)
		}
		history = append(history, e)
	}
	return history, rows.Err()
}

// =============================================================================
// SAVE
// =============================================================================

// SaveLedger writes the whole aggregate in one transaction.
func (s *Store) SaveLedger(ctx context.Context, ledger *vorder.PrisonerLedger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO prisoner_ledgers (prisoner_id, last_vo_allocated_date, last_pvo_allocated_date)
		VALUES (?, ?, ?)
		ON CONFLICT(prisoner_id) DO UPDATE SET
			last_vo_allocated_date = excluded.last_vo_allocated_date,
			last_pvo_allocated_date = excluded.last_pvo_allocated_date`,
		ledger.PrisonerID, formatNullTime(ledger.LastVOAllocatedDate), formatNullTime(ledger.LastPVOAllocatedDate))
	if err != nil {
		return fmt.Errorf("failed to upsert ledger: %w", err)
	}

	// Order collections are rewritten: statuses change in place and refund
	// deletes negative rows, so delete + reinsert keeps the aggregate whole.
	if _, err := tx.ExecContext(ctx, `DELETE FROM visit_orders WHERE prisoner_id = ?`, ledger.PrisonerID); err != nil {
		return fmt.Errorf("failed to clear visit orders: %w", err)
	}
	for pos, o := range ledger.VisitOrders {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO visit_orders (id, prisoner_id, kind, status, created_at, expiry_date, visit_ref, position)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			o.ID, ledger.PrisonerID, o.Kind, o.Status, formatTime(o.CreatedAt), formatNullTime(o.ExpiryDate), o.VisitRef, pos)
		if err != nil {
			return fmt.Errorf("failed to insert visit order: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM negative_visit_orders WHERE prisoner_id = ?`, ledger.PrisonerID); err != nil {
		return fmt.Errorf("failed to clear negative orders: %w", err)
	}
	for pos, n := range ledger.NegativeVisitOrders {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO negative_visit_orders (id, prisoner_id, kind, status, created_at, repaid_at, visit_ref, position)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			n.ID, ledger.PrisonerID, n.Kind, n.Status, formatTime(n.CreatedAt), formatNullTime(n.RepaidAt), n.VisitRef, pos)
		if err != nil {
			return fmt.Errorf("failed to insert negative order: %w", err)
		}
	}

	// History is append-only: existing rows are never touched.
	for _, e := range ledger.History {
		attrsJSON := ""
		if e.Attributes != nil {
			raw, _ := json.Marshal(e.Attributes)
			attrsJSON = string(raw)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO history_entries
			(id, prisoner_id, seq, change_type, actor, comment, vo_balance, pvo_balance, timestamp, correlation_ref, attributes_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, ledger.PrisonerID, e.Seq, e.Type, e.Actor, e.Comment, e.VOBalance, e.PVOBalance,
			formatTime(e.Timestamp), e.CorrelationRef, attrsJSON)
		if err != nil {
			return fmt.Errorf("failed to insert history entry: %w", err)
		}
	}

	return tx.Commit()
}

// DeleteLedger removes the aggregate. Missing ledgers are not an error.
func (s *Store) DeleteLedger(ctx context.Context, prisonerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"visit_orders", "negative_visit_orders", "history_entries", "prisoner_ledgers"} {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE prisoner_id = ?", table), prisonerID); err != nil {
			return fmt.Errorf("failed to delete from %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// =============================================================================
// TIME ENCODING
// =============================================================================

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func formatNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse stored timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
