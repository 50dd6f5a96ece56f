package mostro

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mostro-exchange/mostro-client/config"
	"github.com/mostro-exchange/mostro-client/keys"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		MostroPubkeyHex: strings.Repeat("ab", 32),
		Relays:          []string{"wss://relay.example"},
		Network:         config.NetworkMainnet,
		Limits: config.Limits{
			MaxTradeAmountSats: 1_000_000,
			MaxDailyVolumeSats: 10_000_000,
			MaxTradesPerDay:    10,
		},
		MaxPremiumDeviation: 5,
	}
}

func TestOpenWiresEngineAgainstConfiguredCoordinator(t *testing.T) {
	store, err := keys.NewStore(t.TempDir())
	require.NoError(t, err)

	cfg := testConfig(t)
	client, err := Open(cfg, store, "", t.TempDir(), nil, nil)
	require.NoError(t, err)
	defer client.Close()

	require.NotNil(t, client.Engine.Keys)
	require.NotNil(t, client.Engine.Pool)
	require.NotNil(t, client.Engine.Safety)
	require.NotNil(t, client.Engine.Index)
	require.Equal(t, cfg.MostroPubkey(), client.Engine.CoordinatorPub)
}

func TestCoordinatorPubHexMatchesConfig(t *testing.T) {
	store, err := keys.NewStore(t.TempDir())
	require.NoError(t, err)

	cfg := testConfig(t)
	client, err := Open(cfg, store, "", t.TempDir(), nil, nil)
	require.NoError(t, err)
	defer client.Close()

	require.Equal(t, cfg.MostroPubkeyHex, client.coordinatorPubHex())
}
