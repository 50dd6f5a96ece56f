package relaypool

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mostro-exchange/mostro-client/relayevent"
)

func TestFilterMarshalJSONFlattensTags(t *testing.T) {
	f := Filter{
		Authors: []string{"abc"},
		Kinds:   []relayevent.Kind{38383},
		Tags:    map[string][]string{"z": {"order"}, "s": {"pending"}},
	}
	data, err := json.Marshal(f)
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &m))
	require.Equal(t, []interface{}{"order"}, m["#z"])
	require.Equal(t, []interface{}{"pending"}, m["#s"])
	require.Equal(t, []interface{}{"abc"}, m["authors"])
}

func TestFilterMarshalJSONOmitsTagsKeyWhenEmpty(t *testing.T) {
	f := Filter{Authors: []string{"abc"}}
	data, err := json.Marshal(f)
	require.NoError(t, err)
	require.NotContains(t, string(data), `"-"`)
	require.NotContains(t, string(data), `"tags"`)
}

func TestParseRelayMessageParsesEvent(t *testing.T) {
	ev := relayevent.Event{ID: "abc", SignerPub: "def", Kind: 1, Content: "hi"}
	evJSON, err := json.Marshal(ev)
	require.NoError(t, err)
	frame, err := json.Marshal([]json.RawMessage{
		mustJSON(t, "EVENT"), mustJSON(t, "sub-1"), evJSON,
	})
	require.NoError(t, err)

	parsed, eose := parseRelayMessage(frame, "sub-1")
	require.False(t, eose)
	require.NotNil(t, parsed)
	require.Equal(t, "abc", parsed.ID)
}

func TestParseRelayMessageRecognizesEOSE(t *testing.T) {
	frame, err := json.Marshal([]json.RawMessage{mustJSON(t, "EOSE"), mustJSON(t, "sub-1")})
	require.NoError(t, err)

	parsed, eose := parseRelayMessage(frame, "sub-1")
	require.True(t, eose)
	require.Nil(t, parsed)
}

func TestParseRelayMessageIgnoresUnknownFrameKind(t *testing.T) {
	frame, err := json.Marshal([]json.RawMessage{mustJSON(t, "NOTICE"), mustJSON(t, "some message")})
	require.NoError(t, err)

	parsed, eose := parseRelayMessage(frame, "sub-1")
	require.False(t, eose)
	require.Nil(t, parsed)
}

func TestParseOKMessageRecognizesAcceptance(t *testing.T) {
	frame, err := json.Marshal([]json.RawMessage{
		mustJSON(t, "OK"), mustJSON(t, "evt-1"), mustJSON(t, true), mustJSON(t, ""),
	})
	require.NoError(t, err)

	accepted, reason, matched := parseOKMessage(frame, "evt-1")
	require.True(t, matched)
	require.True(t, accepted)
	require.Empty(t, reason)
}

func TestParseOKMessageRecognizesRejectionWithReason(t *testing.T) {
	frame, err := json.Marshal([]json.RawMessage{
		mustJSON(t, "OK"), mustJSON(t, "evt-1"), mustJSON(t, false), mustJSON(t, "blocked: rate-limited"),
	})
	require.NoError(t, err)

	accepted, reason, matched := parseOKMessage(frame, "evt-1")
	require.True(t, matched)
	require.False(t, accepted)
	require.Equal(t, "blocked: rate-limited", reason)
}

func TestParseOKMessageIgnoresFramesForOtherEvents(t *testing.T) {
	frame, err := json.Marshal([]json.RawMessage{
		mustJSON(t, "OK"), mustJSON(t, "evt-other"), mustJSON(t, true), mustJSON(t, ""),
	})
	require.NoError(t, err)

	_, _, matched := parseOKMessage(frame, "evt-1")
	require.False(t, matched)
}

func TestParseOKMessageIgnoresNonOKFrames(t *testing.T) {
	frame, err := json.Marshal([]json.RawMessage{mustJSON(t, "EOSE"), mustJSON(t, "sub-1")})
	require.NoError(t, err)

	_, _, matched := parseOKMessage(frame, "evt-1")
	require.False(t, matched)
}

func mustJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}
