package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/elys-network/vaultengine/internal/planner"
	"github.com/elys-network/vaultengine/internal/types"
	"github.com/google/uuid"
	"github.com/lib/pq" // PostgreSQL driver for array support
	"github.com/rs/zerolog/log"
)

// PlanRecord is one journaled plan.
type PlanRecord struct {
	ID               uuid.UUID                 `json:"id"`
	Vault            string                    `json:"vault"`
	Sequence         int64                     `json:"sequence"`
	Owner            string                    `json:"owner"`
	Action           planner.Action            `json:"action"`
	PlannedAt        time.Time                 `json:"planned_at"`
	TransactionCount int                       `json:"transaction_count"`
	TradingLossUSD   float64                   `json:"trading_loss_usd"`
	SwapFee          string                    `json:"swap_fee"`
	SwapFeeUSD       float64                   `json:"swap_fee_usd"`
	WithdrawnUSD     float64                   `json:"withdrawn_usd"`
	ProtocolIDs      []string                  `json:"protocol_ids"`
	Legs             []planner.Leg             `json:"legs"`
	Transactions     []types.TransactionIntent `json:"transactions"`
}

// ActionStats aggregates the journal of one vault per action.
type ActionStats struct {
	Action         planner.Action `json:"action"`
	Plans          int            `json:"plans"`
	Transactions   int            `json:"transactions"`
	TradingLossUSD float64        `json:"trading_loss_usd"`
	SwapFeeUSD     float64        `json:"swap_fee_usd"`
	WithdrawnUSD   float64        `json:"withdrawn_usd"`
	LastPlannedAt  time.Time      `json:"last_planned_at"`
}

// RecentPlans returns the latest plans of vault, newest first.
func (s *Store) RecentPlans(ctx context.Context, vault string, limit int) ([]PlanRecord, error) {
	if s.db == nil {
		return nil, ErrDatabaseNotInitialized
	}

	if limit <= 0 || limit > 100 {
		limit = 10 // Default limit
	}

	query := `
		SELECT
			plan_id, vault_name, sequence, owner, action, planned_at,
			transaction_count, trading_loss_usd, swap_fee, swap_fee_usd, withdrawn_usd,
			protocol_ids, legs, transactions
		FROM vault_plans
		WHERE vault_name = $1
		ORDER BY sequence DESC
		LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, vault, limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to query recent plans")
		return nil, fmt.Errorf("failed to query recent plans: %w", err)
	}
	defer rows.Close()

	var plans []PlanRecord
	for rows.Next() {
		var (
			rec                        PlanRecord
			action                     string
			legsJSON, transactionsJSON []byte
		)
		err := rows.Scan(
			&rec.ID, &rec.Vault, &rec.Sequence, &rec.Owner, &action, &rec.PlannedAt,
			&rec.TransactionCount, &rec.TradingLossUSD, &rec.SwapFee, &rec.SwapFeeUSD, &rec.WithdrawnUSD,
			pq.Array(&rec.ProtocolIDs), &legsJSON, &transactionsJSON, // Use pq.Array for PostgreSQL array
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan row: %w", err)
		}
		rec.Action = planner.Action(action)

		if len(legsJSON) > 0 {
			if err := json.Unmarshal(legsJSON, &rec.Legs); err != nil {
				return nil, fmt.Errorf("%w: legs of plan %s: %w", ErrInvalidRecord, rec.ID, err)
			}
		}
		if len(transactionsJSON) > 0 {
			if err := json.Unmarshal(transactionsJSON, &rec.Transactions); err != nil {
				return nil, fmt.Errorf("%w: transactions of plan %s: %w", ErrInvalidRecord, rec.ID, err)
			}
		}
		plans = append(plans, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating plan rows: %w", err)
	}

	return plans, nil
}

// Stats aggregates the vault's journal per action.
func (s *Store) Stats(ctx context.Context, vault string) ([]ActionStats, error) {
	if s.db == nil {
		return nil, ErrDatabaseNotInitialized
	}

	query := `
		SELECT
			action,
			COUNT(*),
			COALESCE(SUM(transaction_count), 0),
			COALESCE(SUM(trading_loss_usd), 0),
			COALESCE(SUM(swap_fee_usd), 0),
			COALESCE(SUM(withdrawn_usd), 0),
			MAX(planned_at)
		FROM vault_plans
		WHERE vault_name = $1
		GROUP BY action
		ORDER BY action
	`

	rows, err := s.db.QueryContext(ctx, query, vault)
	if err != nil {
		return nil, fmt.Errorf("failed to query plan stats: %w", err)
	}
	defer rows.Close()

	var stats []ActionStats
	for rows.Next() {
		var (
			st     ActionStats
			action string
		)
		if err := rows.Scan(&action, &st.Plans, &st.Transactions, &st.TradingLossUSD, &st.SwapFeeUSD, &st.WithdrawnUSD, &st.LastPlannedAt); err != nil {
			return nil, fmt.Errorf("failed to scan plan stats: %w", err)
		}
		st.Action = planner.Action(action)
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating plan stats: %w", err)
	}
	return stats, nil
}
