/*

This file manages the per-vault plan sequence. Every journaled plan takes the next number of
its vault's sequence so the journal can be read back in production order across restarts.

*/

package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// rowQuerier is satisfied by *sql.DB and *sql.Tx.
type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// nextSequence increments the vault's sequence and returns the new value. The first plan of
// a vault gets 1.
func nextSequence(ctx context.Context, q rowQuerier, vault string) (int64, error) {
	query := `
		INSERT INTO plan_sequences (vault_name, current_sequence)
		VALUES ($1, 1)
		ON CONFLICT (vault_name) DO UPDATE
		SET current_sequence = plan_sequences.current_sequence + 1,
		    updated_at = CURRENT_TIMESTAMP
		RETURNING current_sequence;`

	var seq int64
	if err := q.QueryRowContext(ctx, query, vault).Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to increment plan sequence of %s: %w", vault, err)
	}
	return seq, nil
}

// CurrentSequence returns the last sequence number handed out for vault, 0 if none.
func (s *Store) CurrentSequence(ctx context.Context, vault string) (int64, error) {
	if s.db == nil {
		return 0, ErrDatabaseNotInitialized
	}

	query := `SELECT current_sequence FROM plan_sequences WHERE vault_name = $1;`

	var seq int64
	err := s.db.QueryRowContext(ctx, query, vault).Scan(&seq)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get plan sequence of %s: %w", vault, err)
	}

	log.Debug().Str("vault", vault).Int64("sequence", seq).Msg("Retrieved plan sequence")
	return seq, nil
}

// ResetSequence sets the vault's sequence to seq (for maintenance)
func (s *Store) ResetSequence(ctx context.Context, vault string, seq int64) error {
	if s.db == nil {
		return ErrDatabaseNotInitialized
	}
	if seq < 0 {
		return fmt.Errorf("sequence cannot be negative: %d", seq)
	}

	query := `
		INSERT INTO plan_sequences (vault_name, current_sequence)
		VALUES ($1, $2)
		ON CONFLICT (vault_name) DO UPDATE
		SET current_sequence = EXCLUDED.current_sequence,
		    updated_at = CURRENT_TIMESTAMP;`

	if _, err := s.db.ExecContext(ctx, query, vault, seq); err != nil {
		return fmt.Errorf("failed to reset plan sequence of %s to %d: %w", vault, seq, err)
	}

	log.Warn().Str("vault", vault).Int64("sequence", seq).Msg("Reset plan sequence")
	return nil
}
