package tradeengine

import (
	"github.com/shopspring/decimal"
)

// PriceOracle reports the current BTC price in a fiat currency. Mostro
// coordinators typically proxy a public price API (e.g. Yadio); this
// client only needs the one number.
type PriceOracle interface {
	BTCPrice(fiatCode string) (decimal.Decimal, error)
}

// fallbackSatsPerUSD is the conservative sizing rate used when the
// oracle is unreachable (§4.H step 2: "falling back to a conservative
// ~1000 sats/USD if the oracle fails"). Expressed as a BTC/USD price,
// this is 100,000,000 / 1000 = 100,000 USD/BTC — deliberately low, so
// the sats estimate it produces is conservative (larger, not smaller)
// relative to any plausible real market price.
const fallbackSatsPerUSD = 1000

var fallbackBTCPrice = decimal.NewFromInt(100_000_000).Div(decimal.NewFromInt(fallbackSatsPerUSD))

// estimateSats converts a fiat amount to its sats equivalent at the
// oracle's current price, falling back to fallbackBTCPrice if the oracle
// errors. It never returns an error: sizing must always produce some
// estimate for the limit check to run against (§4.H step 2).
func estimateSats(oracle PriceOracle, fiatCode string, fiatAmount decimal.Decimal) (sats int64, usedFallback bool) {
	price := fallbackBTCPrice
	usedFallback = true
	if oracle != nil {
		if p, err := oracle.BTCPrice(fiatCode); err == nil && p.IsPositive() {
			price = p
			usedFallback = false
		}
	}
	btc := fiatAmount.Div(price)
	return btc.Mul(decimal.NewFromInt(100_000_000)).IntPart(), usedFallback
}
