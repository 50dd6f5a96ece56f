// Package safety implements the limit check, market-price deviation
// check, and audit journal of §4.I, gating every new trade before it
// reaches the gift-wrap layer.
package safety

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mostro-exchange/mostro-client/config"
	"github.com/mostro-exchange/mostro-client/mostroerr"
)

const (
	countersFileName = "daily-counters.json"
	journalFileName  = "audit.jsonl"
	counterRetention = 7 * 24 * time.Hour
)

// dailyCounter is the volume/count tally for one UTC date.
type dailyCounter struct {
	SatsVolume uint64 `json:"sats_volume"`
	TradeCount int    `json:"trade_count"`
}

type countersFile struct {
	ByDate       map[string]dailyCounter `json:"by_date"`
	LastTradeAt  int64                   `json:"last_trade_at"`
}

// AuditResult is the terminal outcome recorded for one attempted action
// (§3 "Audit entry").
type AuditResult string

const (
	ResultSuccess  AuditResult = "success"
	ResultFailed   AuditResult = "failed"
	ResultPending  AuditResult = "pending"
	ResultRejected AuditResult = "rejected"
)

// Entry is one line of the append-only audit journal.
type Entry struct {
	Timestamp  int64       `json:"timestamp"`
	Action     string      `json:"action"`
	OrderID    string      `json:"order_id,omitempty"`
	FiatAmount string      `json:"fiat_amount,omitempty"`
	FiatCode   string      `json:"fiat_code,omitempty"`
	Result     AuditResult `json:"result"`
	Details    string      `json:"details,omitempty"`
}

// Envelope bundles the limit check, price-deviation check, and audit
// journal for one data directory, mirroring the single-file-per-concern
// persistence pattern keys.Store uses for the seed.
type Envelope struct {
	dir    string
	limits config.Limits
	mu     sync.Mutex
}

// New returns an Envelope rooted at dir, enforcing limits.
func New(dir string, limits config.Limits) (*Envelope, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, mostroerr.Wrap(mostroerr.KindConfigInvalid, "creating state directory", err)
	}
	return &Envelope{dir: dir, limits: limits}, nil
}

func (e *Envelope) countersPath() string {
	return filepath.Join(e.dir, countersFileName)
}

func (e *Envelope) journalPath() string {
	return filepath.Join(e.dir, journalFileName)
}

// CheckLimits enforces §4.I's four-step limit check against the
// persisted counters, in order, returning LimitExceeded with the first
// violated rule's reason.
func (e *Envelope) CheckLimits(amountSats uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	unlock, err := e.lock()
	if err != nil {
		return err
	}
	defer unlock()

	counters, err := e.readCounters()
	if err != nil {
		return err
	}
	today := todayKey()
	todayCounter := counters.ByDate[today]

	if amountSats > e.limits.MaxTradeAmountSats {
		return mostroerr.New(mostroerr.KindLimitExceeded, "trade amount exceeds max_trade_amount_sats")
	}
	if todayCounter.SatsVolume+amountSats > e.limits.MaxDailyVolumeSats {
		return mostroerr.New(mostroerr.KindLimitExceeded, "trade would exceed max_daily_volume_sats")
	}
	if todayCounter.TradeCount >= e.limits.MaxTradesPerDay {
		return mostroerr.New(mostroerr.KindLimitExceeded, "max_trades_per_day already reached")
	}
	if counters.LastTradeAt != 0 {
		elapsed := time.Now().Unix() - counters.LastTradeAt
		if elapsed < e.limits.CooldownSeconds {
			return mostroerr.New(mostroerr.KindLimitExceeded, "cooldown_seconds has not elapsed since the last trade")
		}
	}
	return nil
}

// RecordTrade advances today's counters by amountSats and one trade, and
// prunes entries older than 7 days (§3 "Daily counters", §8 "Limit
// monotonicity"). It must be called only after a trade is actually
// initiated, not merely checked.
func (e *Envelope) RecordTrade(amountSats uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	unlock, err := e.lock()
	if err != nil {
		return err
	}
	defer unlock()

	counters, err := e.readCounters()
	if err != nil {
		return err
	}
	today := todayKey()
	c := counters.ByDate[today]
	c.SatsVolume += amountSats
	c.TradeCount++
	counters.ByDate[today] = c
	counters.LastTradeAt = time.Now().Unix()

	gcCounters(counters)
	return e.writeCounters(counters)
}

func gcCounters(c *countersFile) {
	cutoff := time.Now().Add(-counterRetention)
	for dateKey := range c.ByDate {
		t, err := time.Parse("2006-01-02", dateKey)
		if err != nil || t.Before(cutoff) {
			delete(c.ByDate, dateKey)
		}
	}
}

func todayKey() string {
	return time.Now().UTC().Format("2006-01-02")
}

func (e *Envelope) readCounters() (*countersFile, error) {
	data, err := os.ReadFile(e.countersPath())
	if os.IsNotExist(err) {
		return &countersFile{ByDate: map[string]dailyCounter{}}, nil
	}
	if err != nil {
		return nil, mostroerr.Wrap(mostroerr.KindConfigInvalid, "reading daily counters", err)
	}
	var c countersFile
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, mostroerr.Wrap(mostroerr.KindConfigInvalid, "parsing daily counters", err)
	}
	if c.ByDate == nil {
		c.ByDate = map[string]dailyCounter{}
	}
	return &c, nil
}

func (e *Envelope) writeCounters(c *countersFile) error {
	data, err := json.Marshal(c)
	if err != nil {
		return mostroerr.Wrap(mostroerr.KindConfigInvalid, "encoding daily counters", err)
	}
	if err := os.WriteFile(e.countersPath(), data, 0600); err != nil {
		return mostroerr.Wrap(mostroerr.KindConfigInvalid, "writing daily counters", err)
	}
	return nil
}

// CheckPriceDeviation enforces §4.I's market-price deviation check. If
// premium is non-nil, it's compared directly against maxDeviationPercent.
// Otherwise, if both amountSats and fiatAmount are positive, an effective
// price is computed and compared. oracleReachable=false always passes
// (warn, don't block) per spec.
func CheckPriceDeviation(premium *int, amountSats int64, fiatAmount decimal.Decimal, marketPrice decimal.Decimal, oracleReachable bool, maxDeviationPercent float64) error {
	if !oracleReachable {
		return nil
	}

	maxDeviation := decimal.NewFromFloat(maxDeviationPercent)

	if premium != nil {
		p := decimal.NewFromInt(int64(*premium)).Abs()
		if p.GreaterThan(maxDeviation) {
			return mostroerr.New(mostroerr.KindPriceDeviation, "order premium exceeds max_premium_deviation")
		}
		return nil
	}

	if amountSats <= 0 || !fiatAmount.IsPositive() {
		return nil
	}

	amountBTC := decimal.NewFromInt(amountSats).Div(decimal.NewFromInt(100_000_000))
	effectivePrice := fiatAmount.Div(amountBTC)
	deviation := effectivePrice.Sub(marketPrice).Div(marketPrice).Mul(decimal.NewFromInt(100)).Abs()

	if deviation.GreaterThan(maxDeviation) {
		return mostroerr.New(mostroerr.KindPriceDeviation, "effective price exceeds max_premium_deviation from market")
	}
	return nil
}

// Record appends entry to the audit journal. The file is opened
// append-only and owner-only (§3 "Audit entry", §8 "Audit append-only"):
// no operation ever rewrites or truncates existing lines.
func (e *Envelope) Record(entry Entry) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	unlock, err := e.lockJournal()
	if err != nil {
		return err
	}
	defer unlock()

	line, err := json.Marshal(entry)
	if err != nil {
		return mostroerr.Wrap(mostroerr.KindConfigInvalid, "encoding audit entry", err)
	}
	line = append(line, '\n')

	f, err := os.OpenFile(e.journalPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return mostroerr.Wrap(mostroerr.KindConfigInvalid, "opening audit journal", err)
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		return mostroerr.Wrap(mostroerr.KindConfigInvalid, "appending audit entry", err)
	}
	return nil
}

// ReadJournal loads every entry currently in the audit journal, in
// append order.
func (e *Envelope) ReadJournal() ([]Entry, error) {
	data, err := os.ReadFile(e.journalPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, mostroerr.Wrap(mostroerr.KindConfigInvalid, "reading audit journal", err)
	}

	var out []Entry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, mostroerr.Wrap(mostroerr.KindConfigInvalid, "parsing audit journal line", err)
		}
		out = append(out, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, mostroerr.Wrap(mostroerr.KindConfigInvalid, "scanning audit journal", err)
	}
	return out, nil
}

func (e *Envelope) lock() (unlock func(), err error) {
	return flockPath(filepath.Join(e.dir, ".counters.lock"))
}

func (e *Envelope) lockJournal() (unlock func(), err error) {
	return flockPath(filepath.Join(e.dir, ".audit.lock"))
}

func flockPath(lockPath string) (unlock func(), err error) {
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, mostroerr.Wrap(mostroerr.KindConfigInvalid, "opening lock file", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		f.Close()
		return nil, mostroerr.Wrap(mostroerr.KindConfigInvalid, "locking state file", err)
	}
	return func() {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
	}, nil
}
