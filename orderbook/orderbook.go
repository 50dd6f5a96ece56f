// Package orderbook parses the coordinator's public order events into
// structured entries and builds the relay filters used to query them
// (§4.G).
package orderbook

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/mostro-exchange/mostro-client/mostroerr"
	"github.com/mostro-exchange/mostro-client/protocol"
	"github.com/mostro-exchange/mostro-client/relaypool"
	"github.com/mostro-exchange/mostro-client/relayevent"
)

// KindOrder is the public event kind the coordinator publishes order-book
// entries under.
const KindOrder relayevent.Kind = 38383

// discriminator is the required value of the "z" tag distinguishing an
// order event from any other application using the same kind number.
const discriminator = "order"

// Entry is one order-book row derived from an order event's tags (§3
// "Parsed order-book entry").
type Entry struct {
	ID              string
	Kind            protocol.OrderKind
	Currency        string
	Status          protocol.OrderStatus
	AmountSats      int64
	FiatAmount      string
	PaymentMethods  []string
	Premium         int
	Rating          string
	Network         string
	Layer           string
	Platform        string
	ExpiresAt       *int64
}

// IsRange reports whether FiatAmount carries a "min-max" range rather than
// a single value.
func (e Entry) IsRange() bool {
	return strings.Contains(e.FiatAmount, "-")
}

// Parse derives an Entry from ev's tags. Parsing is pure and idempotent:
// calling it twice on the same event yields equal entries (§8 "Order-book
// parser idempotence").
func Parse(ev *relayevent.Event) (Entry, error) {
	z, _ := ev.FirstTagValue("z")
	if z != discriminator {
		return Entry{}, mostroerr.New(mostroerr.KindUnknown, "event is not an order discriminator")
	}

	var e Entry
	e.ID, _ = ev.FirstTagValue("d")

	kindTag, _ := ev.FirstTagValue("k")
	e.Kind = protocol.OrderKind(kindTag)

	currency, _ := ev.FirstTagValue("f")
	e.Currency = strings.ToUpper(currency)

	status, _ := ev.FirstTagValue("s")
	e.Status = protocol.OrderStatus(status)

	amt, _ := ev.FirstTagValue("amt")
	amountSats, err := strconv.ParseInt(amt, 10, 64)
	if err != nil {
		return Entry{}, mostroerr.Wrap(mostroerr.KindUnknown, "parsing amt tag", err)
	}
	e.AmountSats = amountSats

	e.FiatAmount, _ = ev.FirstTagValue("fa")
	e.PaymentMethods = ev.TagValues("pm")

	premium, _ := ev.FirstTagValue("premium")
	if premium != "" {
		p, err := strconv.Atoi(premium)
		if err != nil {
			return Entry{}, mostroerr.Wrap(mostroerr.KindUnknown, "parsing premium tag", err)
		}
		e.Premium = p
	}

	e.Rating, _ = ev.FirstTagValue("rating")
	e.Network, _ = ev.FirstTagValue("network")
	e.Layer, _ = ev.FirstTagValue("layer")
	e.Platform, _ = ev.FirstTagValue("y")

	if expires, ok := ev.FirstTagValue("expires_at"); ok && expires != "" {
		v, err := strconv.ParseInt(expires, 10, 64)
		if err != nil {
			return Entry{}, mostroerr.Wrap(mostroerr.KindUnknown, "parsing expires_at tag", err)
		}
		e.ExpiresAt = &v
	}

	return e, nil
}

// RatingStats is the opaque maker-reputation summary some coordinators
// encode as a JSON string in the "rating" tag. Decoding is best-effort:
// callers that don't need it can ignore Entry.Rating entirely.
type RatingStats struct {
	TotalReviews int     `json:"total_reviews"`
	TotalRating  float64 `json:"total_rating"`
	AvgRating    float64 `json:"avg_rating"`
}

// DecodeRating attempts to parse an Entry's opaque Rating field. Failure
// just means this coordinator doesn't encode rating stats that way.
func DecodeRating(raw string) (RatingStats, bool) {
	if raw == "" {
		return RatingStats{}, false
	}
	var stats RatingStats
	if err := json.Unmarshal([]byte(raw), &stats); err != nil {
		return RatingStats{}, false
	}
	return stats, true
}

// Query describes a caller's order-book search; zero values mean
// "don't filter on this field".
type Query struct {
	Status   protocol.OrderStatus
	Kind     protocol.OrderKind
	Currency string
}

// toFilter translates Query into the relay tag filter (§4.G "Filter
// queries"): status -> #s, kind -> #k, currency -> #f, plus the fixed
// #z=order discriminator and the coordinator's pubkey in authors.
func (q Query) toFilter(coordinatorPub string) relaypool.Filter {
	tags := map[string][]string{"z": {discriminator}}
	if q.Status != "" {
		tags["s"] = []string{string(q.Status)}
	}
	if q.Kind != "" {
		tags["k"] = []string{string(q.Kind)}
	}
	if q.Currency != "" {
		tags["f"] = []string{strings.ToUpper(q.Currency)}
	}
	return relaypool.Filter{
		Authors: []string{coordinatorPub},
		Kinds:   []relayevent.Kind{KindOrder},
		Tags:    tags,
	}
}

// Fetch queries pool for order events matching q, authored by
// coordinatorPub, and parses every one that decodes cleanly. Entries that
// fail to parse are skipped with no error surfaced, mirroring the
// decrypt-failure tolerance the gift-wrap layer applies to malformed
// events (§8 "Decrypt-failure tolerance").
func Fetch(ctx context.Context, pool *relaypool.Pool, coordinatorPub string, q Query, window time.Duration) ([]Entry, error) {
	filter := q.toFilter(coordinatorPub)
	events, err := pool.Query(ctx, filter, window)
	if err != nil {
		return nil, err
	}

	var out []Entry
	for _, ev := range events {
		entry, err := Parse(ev)
		if err != nil {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}
