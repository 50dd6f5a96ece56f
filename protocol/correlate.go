package protocol

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Candidate is one reply under consideration for correlation against an
// outstanding request.
type Candidate struct {
	Message   Message
	CreatedAt int64
}

// staleReplyThreshold bounds how old an action-matched fallback reply may
// be before the caller is warned it might be stale session data (§4.F
// "Correlation policy", §8 "Staleness guard").
const staleReplyThreshold = 30 * time.Second

// Correlate picks the reply to requestID among candidates. It first looks
// for an exact request_id match. Failing that, it falls back to the
// freshest candidate whose action is one of wantActions, but only after
// warning if that candidate is older than staleReplyThreshold — never
// returning a stale fallback silently.
func Correlate(candidates []Candidate, requestID uint64, wantActions []Action, log *logrus.Logger) (Message, bool) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	for _, c := range candidates {
		if c.Message.Kind.RequestID != nil && *c.Message.Kind.RequestID == requestID {
			return c.Message, true
		}
	}

	wanted := make(map[Action]bool, len(wantActions))
	for _, a := range wantActions {
		wanted[a] = true
	}

	var best *Candidate
	for i := range candidates {
		c := &candidates[i]
		if !wanted[c.Message.Kind.Action] {
			continue
		}
		if best == nil || c.CreatedAt > best.CreatedAt {
			best = c
		}
	}
	if best == nil {
		return Message{}, false
	}

	age := time.Now().Unix() - best.CreatedAt
	if age > int64(staleReplyThreshold/time.Second) {
		log.WithFields(logrus.Fields{
			"component":  "protocol",
			"request_id": requestID,
			"age_sec":    age,
		}).Warn("falling back to action-matched reply older than the staleness threshold")
	}
	return best.Message, true
}
