package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Token redemption errors, distinguished so the intake handler can report
// a precise rejection to the submitter.
var (
	ErrTokenUnknown = errors.New("submission token unknown")
	ErrTokenUsed    = errors.New("submission token already redeemed")
)

// TokenLedger enforces one submission per issued token. It is an external
// collaborator of the moderation core; the core only consults it at intake.
type TokenLedger interface {
	// Redeem marks the token consumed. It fails if the token does not exist
	// or was already redeemed.
	Redeem(ctx context.Context, token string) error

	// Close releases any underlying resources.
	Close() error
}

// PostgresLedger implements TokenLedger on a submission_tokens table:
//
//	CREATE TABLE submission_tokens (
//	    token        TEXT PRIMARY KEY,
//	    issued_to    TEXT NOT NULL,
//	    issued_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    redeemed_at  TIMESTAMPTZ
//	);
type PostgresLedger struct {
	pool *pgxpool.Pool
}

// NewPostgresLedger connects to Postgres using the given DSN.
func NewPostgresLedger(ctx context.Context, dsn string) (*PostgresLedger, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresLedger{pool: pool}, nil
}

func (l *PostgresLedger) Redeem(ctx context.Context, token string) error {
	tag, err := l.pool.Exec(ctx, `
        UPDATE submission_tokens
        SET redeemed_at = now()
        WHERE token = $1 AND redeemed_at IS NULL`,
		token,
	)
	if err != nil {
		return fmt.Errorf("redeem token: %w", err)
	}
	if tag.RowsAffected() == 1 {
		log.Info().Msg("submission token redeemed")
		return nil
	}

	// No row updated: either the token never existed or it was spent.
	var exists bool
	err = l.pool.QueryRow(ctx, `SELECT true FROM submission_tokens WHERE token = $1`, token).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrTokenUnknown
	}
	if err != nil {
		return fmt.Errorf("look up token: %w", err)
	}
	return ErrTokenUsed
}

// Close releases the connection pool.
func (l *PostgresLedger) Close() error {
	l.pool.Close()
	return nil
}

// OpenLedger admits every submission. Used when the token ledger is disabled.
type OpenLedger struct{}

func (OpenLedger) Redeem(ctx context.Context, token string) error { return nil }

func (OpenLedger) Close() error { return nil }
