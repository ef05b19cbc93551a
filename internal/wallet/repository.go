package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned by repositories when no record exists for an identity.
	ErrNotFound = errors.New("wallet record not found")
	// ErrExists is returned when a record already exists for an identity.
	ErrExists = errors.New("wallet record already exists")
	// ErrPersistence marks a failure of the durable store.
	ErrPersistence = errors.New("wallet store unavailable")
)

// Repository persists wallet records keyed by identity.
type Repository interface {
	Get(ctx context.Context, identity string) (Record, error)
	Create(ctx context.Context, record Record) error
	SetDeployed(ctx context.Context, identity string, deployed bool) error
	Delete(ctx context.Context, identity string) (bool, error)
	List(ctx context.Context) ([]string, error)
}

// PostgresRepository stores wallet records in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Get fetches the record for identity.
func (r *PostgresRepository) Get(ctx context.Context, identity string) (Record, error) {
	row := r.db.QueryRow(ctx, `SELECT identity, signer_secret, signer_address, wallet_address,
        is_deployed, network, chain_id, registered_at
        FROM wallets WHERE identity = $1`, identity)
	var rec Record
	var registeredAt time.Time
	err := row.Scan(&rec.Identity, &rec.SignerSecret, &rec.SignerAddress, &rec.WalletAddress,
		&rec.IsDeployed, &rec.Network, &rec.ChainID, &registeredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	rec.RegisteredAt = registeredAt.UTC()
	return rec, nil
}

// Create inserts a record. It fails with ErrExists if the identity is taken.
func (r *PostgresRepository) Create(ctx context.Context, rec Record) error {
	_, err := r.db.Exec(ctx, `INSERT INTO wallets (identity, signer_secret, signer_address, wallet_address,
        is_deployed, network, chain_id, registered_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.Identity, rec.SignerSecret, rec.SignerAddress, rec.WalletAddress,
		rec.IsDeployed, rec.Network, rec.ChainID, rec.RegisteredAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrExists
		}
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

// SetDeployed updates the deployment flag, the only mutable field of a record.
func (r *PostgresRepository) SetDeployed(ctx context.Context, identity string, deployed bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE wallets SET is_deployed = $2 WHERE identity = $1`, identity, deployed)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the record and reports whether one existed.
func (r *PostgresRepository) Delete(ctx context.Context, identity string) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM wallets WHERE identity = $1`, identity)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return tag.RowsAffected() > 0, nil
}

// List returns every registered identity ordered by registration time.
func (r *PostgresRepository) List(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT identity FROM wallets ORDER BY registered_at, identity`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	identities, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return identities, nil
}
