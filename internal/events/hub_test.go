package events

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_PublishDropsForSlowClients(t *testing.T) {
	h := NewHub()
	ch := h.Subscribe()
	assert.Equal(t, 1, h.Clients())

	for i := 0; i < 25; i++ {
		h.Publish("x")
	}
	assert.Len(t, ch, cap(ch), "buffer fills, extra events are dropped")
	assert.Equal(t, 25-cap(ch), h.Dropped())

	h.Unsubscribe(ch)
	assert.Equal(t, 0, h.Clients())
	h.Publish("after")
}

func TestMakeEvent(t *testing.T) {
	raw := MakeEvent("req-1", TypeRunFinished, 1, map[string]int{"contactsOut": 3})

	var e Event
	require.NoError(t, json.Unmarshal([]byte(raw), &e))
	assert.Equal(t, TypeRunFinished, e.Type)
	assert.Equal(t, "req-1", e.RequestID)
	assert.JSONEq(t, `{"contactsOut":3}`, string(e.Data))
	_, err := uuid.Parse(e.ID)
	assert.NoError(t, err)
}

func TestHub_SinceReplaysAfterLastID(t *testing.T) {
	h := NewHub()
	first := MakeEvent("", TypeRunStarted, 1, nil)
	second := MakeEvent("", TypeRunFinished, 1, nil)
	third := MakeEvent("", TypeConfigReloaded, 1, nil)
	for _, e := range []string{first, second, third} {
		h.Publish(e)
	}

	var e Event
	require.NoError(t, json.Unmarshal([]byte(first), &e))
	assert.Equal(t, []string{second, third}, h.Since(e.ID))
	assert.Empty(t, h.Since("unknown"))
	assert.Empty(t, h.Since(""))
}

func TestHub_ReplayIsBounded(t *testing.T) {
	h := NewHub()
	first := MakeEvent("", TypePing, 1, nil)
	h.Publish(first)
	for i := 0; i < replaySize; i++ {
		h.Publish(MakeEvent("", TypePing, 1, nil))
	}

	var e Event
	require.NoError(t, json.Unmarshal([]byte(first), &e))
	assert.Empty(t, h.Since(e.ID), "oldest event has been evicted")
}
