package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLedger persists journal entries in PostgreSQL.
type PostgresLedger struct {
	db *pgxpool.Pool
}

// NewPostgresLedger constructs a Postgres-backed ledger implementation.
func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// Record inserts an entry. A repeated user operation id yields ErrDuplicateOperation.
func (l *PostgresLedger) Record(ctx context.Context, entry Entry) (Entry, error) {
	if err := validate(entry); err != nil {
		return Entry{}, err
	}
	id := uuid.New()
	if entry.ID != "" {
		parsed, err := uuid.Parse(entry.ID)
		if err != nil {
			return Entry{}, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
		}
		id = parsed
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := l.db.Exec(ctx, `INSERT INTO operations (id, identity, kind, amount, destination,
        operation_id, transaction_id, status, failure_reason, created_at)
        VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10)`,
		id, entry.Identity, string(entry.Kind), entry.Amount.String(), entry.Destination,
		nullable(entry.OperationID), nullable(entry.TransactionID), entry.Status,
		entry.FailureReason, entry.CreatedAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Entry{}, ErrDuplicateOperation
		}
		return Entry{}, fmt.Errorf("record operation: %w", err)
	}
	entry.ID = id.String()
	return entry, nil
}

// ListByIdentity returns the newest entries of identity first.
func (l *PostgresLedger) ListByIdentity(ctx context.Context, identity string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.Query(ctx, `SELECT id, identity, kind, amount::text, destination,
        COALESCE(operation_id, ''), COALESCE(transaction_id, ''), status, failure_reason, created_at
        FROM operations WHERE identity = $1
        ORDER BY created_at DESC LIMIT $2`, identity, limit)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			id      uuid.UUID
			kind    string
			amount  string
			created time.Time
		)
		if err := rows.Scan(&id, &e.Identity, &kind, &amount, &e.Destination,
			&e.OperationID, &e.TransactionID, &e.Status, &e.FailureReason, &created); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		value, ok := new(big.Int).SetString(amount, 10)
		if !ok {
			return nil, fmt.Errorf("scan operation: bad amount %q", amount)
		}
		e.ID = id.String()
		e.Kind = Kind(kind)
		e.Amount = value
		e.CreatedAt = created.UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	return out, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
