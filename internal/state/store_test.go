package state

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/elys-network/vaultengine/internal/planner"
	"github.com/elys-network/vaultengine/internal/types"
	"github.com/elys-network/vaultengine/internal/vault"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ vault.Journal = (*Store)(nil)

var (
	owner   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	fixedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	planID  = uuid.MustParse("6f1c2d3e-4a5b-4c6d-8e7f-8091a2b3c4d5")
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := NewStore(db)
	s.now = func() time.Time { return fixedAt }
	s.newID = func() uuid.UUID { return planID }
	return s, mock
}

func samplePlan() *planner.Plan {
	return &planner.Plan{
		Action: planner.ActionDeposit,
		Transactions: []types.TransactionIntent{
			{To: common.HexToAddress("0x2222222222222222222222222222222222222222"), Data: []byte{0xa9, 0x05}, Chain: "arbitrum", Label: "swap-fee/treasury"},
			{Chain: "arbitrum", Label: "A/deposit"},
		},
		Legs: []planner.Leg{
			{ProtocolID: "A", Category: "gold", Chain: "arbitrum", Transactions: 1, TradingLoss: 1.5, AmountIn: sdkmath.NewInt(997)},
		},
		TradingLossUSD: 1.5,
		SwapFee:        sdkmath.NewInt(3),
		SwapFeeUSD:     0.000003,
	}
}

func TestSavePlan(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO plan_sequences")).
		WithArgs("all-weather").
		WillReturnRows(sqlmock.NewRows([]string{"current_sequence"}).AddRow(int64(3)))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO vault_plans")).
		WithArgs(planID.String(), "all-weather", int64(3), owner.Hex(), "deposit", fixedAt,
			int64(2), 1.5, "3", 0.000003, 0.0,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, s.SavePlan(context.Background(), "all-weather", owner, samplePlan()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSavePlan_RollsBackOnFailure(t *testing.T) {
	s, mock := newMockStore(t)
	boom := errors.New("unique violation")

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO plan_sequences")).
		WillReturnRows(sqlmock.NewRows([]string{"current_sequence"}).AddRow(int64(1)))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO vault_plans")).WillReturnError(boom)
	mock.ExpectRollback()

	err := s.SavePlan(context.Background(), "all-weather", owner, samplePlan())
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSavePlan_Invalid(t *testing.T) {
	s, _ := newMockStore(t)
	assert.ErrorIs(t, s.SavePlan(context.Background(), "v", owner, nil), ErrInvalidRecord)

	empty := NewStore(nil)
	assert.ErrorIs(t, empty.SavePlan(context.Background(), "v", owner, samplePlan()), ErrDatabaseNotInitialized)
}

func TestRecentPlans(t *testing.T) {
	s, mock := newMockStore(t)
	plan := samplePlan()
	legs, err := json.Marshal(plan.Legs)
	require.NoError(t, err)
	txs, err := json.Marshal(plan.Transactions)
	require.NoError(t, err)

	columns := []string{
		"plan_id", "vault_name", "sequence", "owner", "action", "planned_at",
		"transaction_count", "trading_loss_usd", "swap_fee", "swap_fee_usd", "withdrawn_usd",
		"protocol_ids", "legs", "transactions",
	}
	mock.ExpectQuery(regexp.QuoteMeta("FROM vault_plans")).
		WithArgs("all-weather", 10).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			planID.String(), "all-weather", int64(3), owner.Hex(), "deposit", fixedAt,
			int64(2), 1.5, "3", 0.000003, 0.0,
			"{A}", legs, txs,
		))

	records, err := s.RecentPlans(context.Background(), "all-weather", 0)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, planID, rec.ID)
	assert.Equal(t, planner.ActionDeposit, rec.Action)
	assert.Equal(t, int64(3), rec.Sequence)
	assert.Equal(t, []string{"A"}, rec.ProtocolIDs)
	require.Len(t, rec.Legs, 1)
	assert.True(t, rec.Legs[0].AmountIn.Equal(sdkmath.NewInt(997)))
	require.Len(t, rec.Transactions, 2)
	assert.Equal(t, []byte{0xa9, 0x05}, rec.Transactions[0].Data)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStats(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY action")).
		WithArgs("all-weather").
		WillReturnRows(sqlmock.NewRows([]string{"action", "count", "txs", "loss", "fee", "withdrawn", "last"}).
			AddRow("deposit", int64(4), int64(12), 3.5, 1.2, 0.0, fixedAt).
			AddRow("withdraw", int64(1), int64(3), 0.5, 0.3, 100.0, fixedAt))

	stats, err := s.Stats(context.Background(), "all-weather")
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, planner.ActionDeposit, stats[0].Action)
	assert.Equal(t, 4, stats[0].Plans)
	assert.Equal(t, 12, stats[0].Transactions)
	assert.Equal(t, 100.0, stats[1].WithdrawnUSD)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSequence(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT current_sequence FROM plan_sequences")).
		WithArgs("fresh").
		WillReturnRows(sqlmock.NewRows([]string{"current_sequence"}))
	seq, err := s.CurrentSequence(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, int64(0), seq)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT current_sequence FROM plan_sequences")).
		WithArgs("all-weather").
		WillReturnRows(sqlmock.NewRows([]string{"current_sequence"}).AddRow(int64(41)))
	seq, err = s.CurrentSequence(ctx, "all-weather")
	require.NoError(t, err)
	assert.Equal(t, int64(41), seq)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO plan_sequences")).
		WithArgs("all-weather", int64(0)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.ResetSequence(ctx, "all-weather", 0))
	assert.Error(t, s.ResetSequence(ctx, "all-weather", -1))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFeeParameters_SaveAndLoad(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	params := types.FeeParameters{
		SwapFeeRate:        sdkmath.LegacyNewDecWithPrec(299, 5),
		ReferralFeeRate:    sdkmath.LegacyNewDecWithPrec(7, 1),
		MinWithdrawUSD:     1,
		RebalanceThreshold: 0.05,
		MaxConcurrentReads: 8,
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE fee_parameters SET is_active = FALSE")).
		WithArgs("default").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO fee_parameters")).
		WithArgs("default", true, fixedAt, "0.002990000000000000", "0.700000000000000000", 1.0, 0.05, int64(8)).
		WillReturnRows(sqlmock.NewRows([]string{"params_id", "version"}).AddRow(int64(7), int64(2)))
	mock.ExpectCommit()

	id, version, err := s.SaveFeeParameters(ctx, "default", params, true)
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.Equal(t, 2, version)

	mock.ExpectQuery(regexp.QuoteMeta("FROM fee_parameters")).
		WithArgs("default").
		WillReturnRows(sqlmock.NewRows([]string{"swap_fee_rate", "referral_fee_rate", "min_withdraw_usd", "rebalance_threshold", "max_concurrent_reads"}).
			AddRow("0.002990000000000000", "0.7", 1.0, 0.05, int64(8)))

	loaded, err := s.LoadActiveFeeParameters(ctx, "default")
	require.NoError(t, err)
	assert.True(t, loaded.SwapFeeRate.Equal(params.SwapFeeRate))
	assert.True(t, loaded.ReferralFeeRate.Equal(params.ReferralFeeRate))
	assert.Equal(t, 8, loaded.MaxConcurrentReads)

	mock.ExpectQuery(regexp.QuoteMeta("FROM fee_parameters")).
		WithArgs("other").
		WillReturnRows(sqlmock.NewRows([]string{"swap_fee_rate", "referral_fee_rate", "min_withdraw_usd", "rebalance_threshold", "max_concurrent_reads"}))
	_, err = s.LoadActiveFeeParameters(ctx, "other")
	assert.ErrorIs(t, err, ErrNoActiveParameters)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFeeParameters_RejectsUnsetRates(t *testing.T) {
	s, _ := newMockStore(t)
	_, _, err := s.SaveFeeParameters(context.Background(), "default", types.FeeParameters{}, true)
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS fee_parameters")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DROP TABLE IF EXISTS vault_plans")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, EnsureSchema(context.Background(), db))
	require.NoError(t, DropSchema(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.ErrorIs(t, EnsureSchema(context.Background(), nil), ErrDatabaseNotInitialized)
	assert.ErrorIs(t, Ping(context.Background(), nil), ErrDatabaseNotInitialized)
}

func TestDSN(t *testing.T) {
	cfg := DBConfig{Host: "db", Port: 5432, User: "vault", Password: "secret", DBName: "engine", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=vault password=secret dbname=engine sslmode=disable", cfg.DSN())
}
