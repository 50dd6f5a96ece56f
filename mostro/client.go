// Package mostro wires the client's components (§4: key hierarchy, relay
// transport, gift-wrap, protocol messages, order book, safety envelope,
// and trade engine) into one handle a caller constructs once per
// configured coordinator.
package mostro

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mostro-exchange/mostro-client/config"
	"github.com/mostro-exchange/mostro-client/keys"
	"github.com/mostro-exchange/mostro-client/orderbook"
	"github.com/mostro-exchange/mostro-client/relaypool"
	"github.com/mostro-exchange/mostro-client/safety"
	"github.com/mostro-exchange/mostro-client/tradeengine"
)

// defaultQueryWindow bounds how long an order-book fetch waits for relays
// to answer a REQ before returning whatever has arrived.
const defaultQueryWindow = 5 * time.Second

// Client is the top-level handle a CLI or embedding program constructs:
// one configured coordinator, one key store, one safety envelope.
type Client struct {
	Config *config.Config
	Keys   *keys.Keys
	Pool   *relaypool.Pool
	Engine *tradeengine.Engine
	Log    *logrus.Logger
}

// Open loads cfg's relays and coordinator pubkey, opens the key and
// safety state rooted at stateDir, and returns a ready-to-use Client.
// passphrase is forwarded to the seed store unchanged and may be empty.
// oracle may be nil, in which case sizing estimates use the conservative
// sats/USD fallback rate (§4.H step 2).
func Open(cfg *config.Config, keyStore *keys.Store, passphrase string, stateDir string, oracle tradeengine.PriceOracle, log *logrus.Logger) (*Client, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	// 1 is only the cursor used for a brand-new seed; LoadOrCreate restores
	// the persisted trade-index cursor for an existing one.
	k, _, err := keyStore.LoadOrCreate(passphrase, 1)
	if err != nil {
		return nil, err
	}

	pool := relaypool.New(cfg.Relays, log)

	env, err := safety.New(stateDir, cfg.Limits)
	if err != nil {
		return nil, err
	}

	index, err := tradeengine.NewIndexMap(stateDir)
	if err != nil {
		return nil, err
	}

	engine := &tradeengine.Engine{
		Keys:                k,
		Pool:                pool,
		Safety:              env,
		Index:               index,
		Oracle:              oracle,
		CoordinatorPub:      cfg.MostroPubkey(),
		MaxPremiumDeviation: cfg.MaxPremiumDeviation,
		Log:                 log,
	}

	return &Client{Config: cfg, Keys: k, Pool: pool, Engine: engine, Log: log}, nil
}

// OrderBook returns the coordinator's current public order book matching
// q, waiting up to defaultQueryWindow for relays to answer.
func (c *Client) OrderBook(ctx context.Context, q orderbook.Query) ([]orderbook.Entry, error) {
	return orderbook.Fetch(ctx, c.Pool, c.coordinatorPubHex(), q, defaultQueryWindow)
}

func (c *Client) coordinatorPubHex() string {
	pub := c.Config.MostroPubkey()
	return hex.EncodeToString(pub[:])
}

// Close releases the client's relay connections. Callers must defer this
// on every exit path (§4.H step 7, §5 "Connection lifecycle").
func (c *Client) Close() {
	c.Engine.Close()
}
