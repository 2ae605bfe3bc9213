// ./internal/state/parameters_store.go
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/elys-network/vaultengine/internal/types"
	"github.com/rs/zerolog/log"
)

// SaveFeeParameters stores params as the next version of configName and returns its id and
// version. With makeActive the previously active version is deactivated in the same transaction.
func (s *Store) SaveFeeParameters(ctx context.Context, configName string, params types.FeeParameters, makeActive bool) (id int64, version int, err error) {
	if s.db == nil {
		return 0, 0, ErrDatabaseNotInitialized
	}
	if params.SwapFeeRate.IsNil() || params.ReferralFeeRate.IsNil() {
		return 0, 0, fmt.Errorf("%w: fee rates are unset", ErrInvalidRecord)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p) // Re-panic after rollback
		} else if err != nil {
			tx.Rollback() // Rollback if error occurred
		}
	}()

	if makeActive {
		stmtDeactivate := `UPDATE fee_parameters SET is_active = FALSE WHERE config_name = $1 AND is_active = TRUE;`
		if _, err = tx.ExecContext(ctx, stmtDeactivate, configName); err != nil {
			return 0, 0, fmt.Errorf("failed to deactivate existing active parameters for %s: %w", configName, err)
		}
	}

	stmt := `
		INSERT INTO fee_parameters (
			version, config_name, is_active, activated_at, created_at,
			swap_fee_rate, referral_fee_rate, min_withdraw_usd, rebalance_threshold, max_concurrent_reads
		) VALUES (
			(SELECT COALESCE(MAX(version), 0) + 1 FROM fee_parameters WHERE config_name = $1),
			$1, $2, $3, $3,
			$4, $5, $6, $7, $8
		) RETURNING params_id, version;`

	now := s.now()
	err = tx.QueryRowContext(ctx, stmt,
		configName, makeActive, now,
		params.SwapFeeRate.String(), params.ReferralFeeRate.String(),
		params.MinWithdrawUSD, params.RebalanceThreshold, params.MaxConcurrentReads,
	).Scan(&id, &version)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to insert fee parameters: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Info().
		Int("version", version).
		Str("config", configName).
		Int64("params_id", id).
		Bool("active", makeActive).
		Msg("Saved fee parameters")
	return id, version, nil
}

// LoadActiveFeeParameters loads the currently active fee parameters of configName.
func (s *Store) LoadActiveFeeParameters(ctx context.Context, configName string) (*types.FeeParameters, error) {
	if s.db == nil {
		return nil, ErrDatabaseNotInitialized
	}

	query := `
		SELECT swap_fee_rate, referral_fee_rate, min_withdraw_usd, rebalance_threshold, max_concurrent_reads
		FROM fee_parameters
		WHERE config_name = $1 AND is_active = TRUE
		ORDER BY activated_at DESC
		LIMIT 1;`

	var p types.FeeParameters
	var swapFee, referralFee string
	err := s.db.QueryRowContext(ctx, query, configName).Scan(
		&swapFee, &referralFee, &p.MinWithdrawUSD, &p.RebalanceThreshold, &p.MaxConcurrentReads,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: config '%s'", ErrNoActiveParameters, configName)
		}
		return nil, fmt.Errorf("failed to scan active fee parameters for config '%s': %w", configName, err)
	}

	if p.SwapFeeRate, err = sdkmath.LegacyNewDecFromStr(swapFee); err != nil {
		return nil, fmt.Errorf("%w: swap_fee_rate %q: %w", ErrInvalidRecord, swapFee, err)
	}
	if p.ReferralFeeRate, err = sdkmath.LegacyNewDecFromStr(referralFee); err != nil {
		return nil, fmt.Errorf("%w: referral_fee_rate %q: %w", ErrInvalidRecord, referralFee, err)
	}

	log.Info().Str("config", configName).Msg("Loaded active fee parameters")
	return &p, nil
}
