// ./internal/state/plan_store.go
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/elys-network/vaultengine/internal/planner"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/lib/pq" // PostgreSQL driver for array support
	"github.com/rs/zerolog/log"
)

// Store is the plan journal and parameter store backed by PostgreSQL.
type Store struct {
	db    *sql.DB
	now   func() time.Time
	newID func() uuid.UUID
}

// NewStore wraps an open connection pool.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now, newID: uuid.New}
}

// SavePlan journals plan as produced for owner by vault. The plan takes the next number of
// the vault's sequence; both writes happen in one transaction.
func (s *Store) SavePlan(ctx context.Context, vault string, owner common.Address, plan *planner.Plan) (err error) {
	if s.db == nil {
		return ErrDatabaseNotInitialized
	}
	if plan == nil {
		return fmt.Errorf("%w: plan is nil", ErrInvalidRecord)
	}

	legsJSON, err := json.Marshal(plan.Legs)
	if err != nil {
		return fmt.Errorf("failed to marshal legs: %w", err)
	}
	transactionsJSON, err := json.Marshal(plan.Transactions)
	if err != nil {
		return fmt.Errorf("failed to marshal transactions: %w", err)
	}
	swapFee := "0"
	if !plan.SwapFee.IsNil() {
		swapFee = plan.SwapFee.String()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	seq, err := nextSequence(ctx, tx, vault)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO vault_plans (
			plan_id, vault_name, sequence, owner, action, planned_at,
			transaction_count, trading_loss_usd, swap_fee, swap_fee_usd, withdrawn_usd,
			protocol_ids, legs, transactions
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14);
	`

	id := s.newID()
	_, err = tx.ExecContext(ctx, query,
		id, vault, seq, owner.Hex(), string(plan.Action), s.now(),
		len(plan.Transactions), plan.TradingLossUSD, swapFee, plan.SwapFeeUSD, plan.WithdrawnUSD,
		pq.Array(plan.ProtocolIDs()), legsJSON, transactionsJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to save plan: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Info().
		Str("plan_id", id.String()).
		Str("vault", vault).
		Int64("sequence", seq).
		Str("action", string(plan.Action)).
		Int("transactions", len(plan.Transactions)).
		Msg("Plan saved to journal")

	return nil
}
