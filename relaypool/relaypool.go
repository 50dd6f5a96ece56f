// Package relaypool implements the relay transport consumed by the rest
// of the client (§6 "Relay transport"): publish/query/close against a set
// of websocket relays, fanned out in parallel per §5's concurrency model.
//
// The channel-per-connection, mutex-guarded-map shape mirrors the
// teacher's node/network.go NetworkManager, adapted from a libp2p
// gossipsub host to a set of independent NIP-01-style websocket
// connections (see DESIGN.md for why libp2p/gossipsub/NATS were dropped).
package relaypool

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/mostro-exchange/mostro-client/mostroerr"
	"github.com/mostro-exchange/mostro-client/relayevent"
)

// Filter is a relay query filter. Only the fields the order-book/protocol
// layers populate are modeled; zero values are omitted on the wire.
type Filter struct {
	IDs     []string            `json:"ids,omitempty"`
	Authors []string            `json:"authors,omitempty"`
	Kinds   []relayevent.Kind   `json:"kinds,omitempty"`
	Tags    map[string][]string `json:"-"`
	Since   int64               `json:"since,omitempty"`
	Limit   int                 `json:"limit,omitempty"`
}

// MarshalJSON flattens Tags into the "#<name>" keys the relay wire
// protocol expects alongside the fixed fields.
func (f Filter) MarshalJSON() ([]byte, error) {
	type alias Filter
	raw, err := json.Marshal(alias(f))
	if err != nil {
		return nil, err
	}
	if len(f.Tags) == 0 {
		return raw, nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	for name, values := range f.Tags {
		encoded, err := json.Marshal(values)
		if err != nil {
			return nil, err
		}
		m["#"+name] = encoded
	}
	return json.Marshal(m)
}

// PublishResult is one relay's outcome for a single publish call.
type PublishResult struct {
	Relay string
	OK    bool
	Err   error
}

// Pool fans a publish/query out across a fixed set of relay URLs.
type Pool struct {
	log   *logrus.Entry
	urls  []string
	mu    sync.Mutex
	conns map[string]*websocket.Conn
}

// New returns a Pool over the given relay websocket URLs. Connections are
// opened lazily, on first publish or query.
func New(urls []string, log *logrus.Logger) *Pool {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Pool{
		log:   log.WithField("component", "relaypool"),
		urls:  urls,
		conns: make(map[string]*websocket.Conn),
	}
}

func (p *Pool) conn(ctx context.Context, url string) (*websocket.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.conns[url]; ok {
		return c, nil
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	c, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	p.conns[url] = c
	return c, nil
}

func (p *Pool) dropConn(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.conns[url]; ok {
		c.Close()
		delete(p.conns, url)
	}
}

// Publish sends ev to every configured relay in parallel and waits for
// every relay's outcome. It succeeds if at least one relay accepted the
// event; per-relay failures are logged as warnings. If every relay fails,
// it returns PublishFailed.
func (p *Pool) Publish(ctx context.Context, ev *relayevent.Event) error {
	frame, err := json.Marshal([]interface{}{"EVENT", ev})
	if err != nil {
		return mostroerr.Wrap(mostroerr.KindUnknown, "encoding event frame", err)
	}

	results := make(chan PublishResult, len(p.urls))
	var wg sync.WaitGroup
	for _, url := range p.urls {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			err := p.publishOne(ctx, url, ev, frame)
			results <- PublishResult{Relay: url, OK: err == nil, Err: err}
		}(url)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	anyOK := false
	for r := range results {
		if r.OK {
			anyOK = true
			continue
		}
		p.log.WithField("relay", r.Relay).WithError(r.Err).Warn("relay rejected publish")
	}
	if !anyOK {
		return mostroerr.New(mostroerr.KindPublishFailed, "no relay accepted the event")
	}
	return nil
}

// publishAckTimeout bounds how long publishOne waits for a relay's NIP-01
// OK frame once the event has been written, when the caller's context
// carries no nearer deadline.
const publishAckTimeout = 10 * time.Second

// publishOne writes ev to url and waits for that relay's OK acknowledgment
// frame, treating an explicit OK-false as a rejection rather than success
// (§6 "Publication is successful if any relay accepts"): a relay can accept
// the TCP write yet still reject the event itself (bad signature, rate
// limit, blocked pubkey), and only the OK frame distinguishes the two.
func (p *Pool) publishOne(ctx context.Context, url string, ev *relayevent.Event, frame []byte) error {
	c, err := p.conn(ctx, url)
	if err != nil {
		return mostroerr.Wrap(mostroerr.KindRelayError, "dialing relay", err)
	}

	deadline := time.Now().Add(publishAckTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	c.SetWriteDeadline(deadline)
	if err := c.WriteMessage(websocket.TextMessage, frame); err != nil {
		p.dropConn(url)
		return mostroerr.Wrap(mostroerr.KindRelayError, "writing to relay", err)
	}

	c.SetReadDeadline(deadline)
	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			p.dropConn(url)
			return mostroerr.Wrap(mostroerr.KindRelayError, "waiting for relay OK", err)
		}
		accepted, reason, matched := parseOKMessage(msg, ev.ID)
		if !matched {
			continue
		}
		if !accepted {
			return mostroerr.New(mostroerr.KindPublishFailed, "relay rejected event: "+reason)
		}
		return nil
	}
}

// parseOKMessage extracts a NIP-01 ["OK", <id>, <bool>, <message>] frame
// addressed to eventID. matched is false for any frame that isn't an OK
// for this event (a stray EVENT/EOSE from a concurrent query on the same
// connection, or an OK for a different event), so the caller keeps reading.
func parseOKMessage(msg []byte, eventID string) (accepted bool, reason string, matched bool) {
	var frame []json.RawMessage
	if err := json.Unmarshal(msg, &frame); err != nil || len(frame) < 3 {
		return false, "", false
	}
	var kind string
	if err := json.Unmarshal(frame[0], &kind); err != nil || kind != "OK" {
		return false, "", false
	}
	var id string
	if err := json.Unmarshal(frame[1], &id); err != nil || id != eventID {
		return false, "", false
	}
	if err := json.Unmarshal(frame[2], &accepted); err != nil {
		return false, "", false
	}
	if len(frame) >= 4 {
		json.Unmarshal(frame[3], &reason)
	}
	return accepted, reason, true
}

// Query fans a REQ out to every relay, collects events for the given
// bounded window, unions the results and deduplicates by event id.
func (p *Pool) Query(ctx context.Context, filter Filter, window time.Duration) ([]*relayevent.Event, error) {
	subID := uuid.NewString()
	frame, err := json.Marshal([]interface{}{"REQ", subID, filter})
	if err != nil {
		return nil, mostroerr.Wrap(mostroerr.KindUnknown, "encoding filter frame", err)
	}

	queryCtx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	events := make(chan *relayevent.Event, 256)
	var wg sync.WaitGroup
	for _, url := range p.urls {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			p.queryOne(queryCtx, url, frame, subID, events)
		}(url)
	}
	go func() {
		wg.Wait()
		close(events)
	}()

	seen := make(map[string]struct{})
	var out []*relayevent.Event
	for ev := range events {
		if _, dup := seen[ev.ID]; dup {
			continue
		}
		seen[ev.ID] = struct{}{}
		out = append(out, ev)
	}
	return out, nil
}

func (p *Pool) queryOne(ctx context.Context, url string, frame []byte, subID string, out chan<- *relayevent.Event) {
	c, err := p.conn(ctx, url)
	if err != nil {
		p.log.WithField("relay", url).WithError(err).Warn("relay unreachable during query")
		return
	}
	if deadline, ok := ctx.Deadline(); ok {
		c.SetWriteDeadline(deadline)
		c.SetReadDeadline(deadline)
	}
	if err := c.WriteMessage(websocket.TextMessage, frame); err != nil {
		p.log.WithField("relay", url).WithError(err).Warn("relay query write failed")
		p.dropConn(url)
		return
	}

	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			return
		}
		ev, eose := parseRelayMessage(msg, subID)
		if eose {
			return
		}
		if ev != nil {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

func parseRelayMessage(msg []byte, subID string) (ev *relayevent.Event, eose bool) {
	var frame []json.RawMessage
	if err := json.Unmarshal(msg, &frame); err != nil || len(frame) < 2 {
		return nil, false
	}
	var kind string
	if err := json.Unmarshal(frame[0], &kind); err != nil {
		return nil, false
	}

	var frameSub string
	if err := json.Unmarshal(frame[1], &frameSub); err != nil || frameSub != subID {
		return nil, false
	}

	switch kind {
	case "EOSE":
		return nil, true
	case "EVENT":
		if len(frame) < 3 {
			return nil, false
		}
		var e relayevent.Event
		if err := json.Unmarshal(frame[2], &e); err != nil {
			return nil, false
		}
		return &e, false
	default:
		return nil, false
	}
}

// Close releases every open relay connection. Safe to call more than
// once and on every exit path, success or error (§5).
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for url, c := range p.conns {
		c.Close()
		delete(p.conns, url)
	}
}
