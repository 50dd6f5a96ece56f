package safety

import (
	"os"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/mostro-exchange/mostro-client/config"
	"github.com/mostro-exchange/mostro-client/mostroerr"
)

func newEnvelope(t *testing.T, limits config.Limits) *Envelope {
	t.Helper()
	dir := t.TempDir()
	env, err := New(dir, limits)
	require.NoError(t, err)
	return env
}

func TestCheckLimitsRejectsOversizedTrade(t *testing.T) {
	env := newEnvelope(t, config.Limits{MaxTradeAmountSats: 50_000, MaxDailyVolumeSats: 1_000_000, MaxTradesPerDay: 10, CooldownSeconds: 0})
	err := env.CheckLimits(3_333_333)
	require.Error(t, err)
	require.True(t, mostroerr.Is(err, mostroerr.KindLimitExceeded))
}

func TestCheckLimitsPassesWithinBounds(t *testing.T) {
	env := newEnvelope(t, config.Limits{MaxTradeAmountSats: 1_000_000, MaxDailyVolumeSats: 10_000_000, MaxTradesPerDay: 10, CooldownSeconds: 0})
	require.NoError(t, env.CheckLimits(100_000))
}

func TestRecordTradeEnforcesMonotonicDailyVolume(t *testing.T) {
	env := newEnvelope(t, config.Limits{MaxTradeAmountSats: 10_000_000, MaxDailyVolumeSats: 150_000, MaxTradesPerDay: 10, CooldownSeconds: 0})
	require.NoError(t, env.CheckLimits(100_000))
	require.NoError(t, env.RecordTrade(100_000))

	err := env.CheckLimits(100_000)
	require.Error(t, err)
	require.True(t, mostroerr.Is(err, mostroerr.KindLimitExceeded))
}

func TestRecordTradeEnforcesDailyCountCap(t *testing.T) {
	env := newEnvelope(t, config.Limits{MaxTradeAmountSats: 10_000_000, MaxDailyVolumeSats: 100_000_000, MaxTradesPerDay: 2, CooldownSeconds: 0})
	require.NoError(t, env.RecordTrade(1_000))
	require.NoError(t, env.RecordTrade(1_000))

	err := env.CheckLimits(1_000)
	require.Error(t, err)
}

func TestRecordTradeEnforcesCooldown(t *testing.T) {
	env := newEnvelope(t, config.Limits{MaxTradeAmountSats: 10_000_000, MaxDailyVolumeSats: 100_000_000, MaxTradesPerDay: 100, CooldownSeconds: 3600})
	require.NoError(t, env.RecordTrade(1_000))

	err := env.CheckLimits(1_000)
	require.Error(t, err)
	require.True(t, mostroerr.Is(err, mostroerr.KindLimitExceeded))
}

func TestCheckPriceDeviationPassesWhenOracleUnreachable(t *testing.T) {
	err := CheckPriceDeviation(nil, 100_000, decimal.NewFromInt(30), decimal.NewFromInt(30_000), false, 5)
	require.NoError(t, err)
}

func TestCheckPriceDeviationComparesPremiumDirectly(t *testing.T) {
	within := 4
	require.NoError(t, CheckPriceDeviation(&within, 0, decimal.Zero, decimal.NewFromInt(30_000), true, 5))

	outside := -10
	err := CheckPriceDeviation(&outside, 0, decimal.Zero, decimal.NewFromInt(30_000), true, 5)
	require.Error(t, err)
	require.True(t, mostroerr.Is(err, mostroerr.KindPriceDeviation))
}

func TestCheckPriceDeviationComputesEffectivePrice(t *testing.T) {
	// 100_000 sats at market 30_000/BTC implies fiat_amount ~= 30.
	// Declaring fiat_amount = 33 is a 10% premium, within a 15% cap.
	require.NoError(t, CheckPriceDeviation(nil, 100_000, decimal.NewFromInt(33), decimal.NewFromInt(30_000), true, 15))

	// Declaring fiat_amount = 45 is a 50% premium, outside any sane cap.
	err := CheckPriceDeviation(nil, 100_000, decimal.NewFromInt(45), decimal.NewFromInt(30_000), true, 15)
	require.Error(t, err)
}

func TestAuditJournalIsAppendOnly(t *testing.T) {
	env := newEnvelope(t, config.Limits{MaxTradeAmountSats: 1, MaxDailyVolumeSats: 1, MaxTradesPerDay: 1, CooldownSeconds: 0})

	require.NoError(t, env.Record(Entry{Timestamp: 1, Action: "new-order", Result: ResultSuccess}))
	require.NoError(t, env.Record(Entry{Timestamp: 2, Action: "release", Result: ResultPending}))

	entries, err := env.ReadJournal()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "new-order", entries[0].Action)
	require.Equal(t, "release", entries[1].Action)

	info, err := os.Stat(env.journalPath())
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestReadJournalReturnsNilForMissingFile(t *testing.T) {
	env := newEnvelope(t, config.Limits{MaxTradeAmountSats: 1, MaxDailyVolumeSats: 1, MaxTradesPerDay: 1, CooldownSeconds: 0})
	entries, err := env.ReadJournal()
	require.NoError(t, err)
	require.Nil(t, entries)
}
