package lifecycle

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHub_DeliversInOrder(t *testing.T) {
	hub := NewHub(zap.NewNop())

	var got []EventType
	hub.Subscribe(ListenerFunc(func(e Event) { got = append(got, e.Type) }))

	for _, typ := range []EventType{EventContractCreated, EventContractAccepted, EventProgress, EventContractCompleted} {
		hub.Publish(Event{Type: typ, ContractID: "c1"})
	}

	assert.Equal(t, []EventType{EventContractCreated, EventContractAccepted, EventProgress, EventContractCompleted}, got)
}

func TestHub_StampsTimestamp(t *testing.T) {
	hub := NewHub(nil)

	var got Event
	hub.Subscribe(ListenerFunc(func(e Event) { got = e }))
	hub.Publish(Event{Type: EventProgress})

	assert.False(t, got.Timestamp.IsZero())
}

func TestHub_Unsubscribe(t *testing.T) {
	hub := NewHub(nil)

	count := 0
	id := hub.Subscribe(ListenerFunc(func(Event) { count++ }))
	hub.Publish(Event{Type: EventProgress})
	hub.Unsubscribe(id)
	hub.Unsubscribe("missing")
	hub.Publish(Event{Type: EventProgress})

	assert.Equal(t, 1, count)
}

func TestHub_PanickingListenerIsIsolated(t *testing.T) {
	hub := NewHub(nil)

	delivered := false
	hub.Subscribe(ListenerFunc(func(Event) { panic("boom") }))
	hub.Subscribe(ListenerFunc(func(Event) { delivered = true }))

	assert.NotPanics(t, func() { hub.Publish(Event{Type: EventContractFailed}) })
	assert.True(t, delivered)
}

func TestSeverity_Ordering(t *testing.T) {
	assert.True(t, SeverityDebug < SeverityInfo)
	assert.True(t, SeverityInfo < SeverityWarning)
	assert.True(t, SeverityWarning < SeverityError)
	assert.True(t, SeverityError < SeverityCritical)
}

func TestSeverity_TextRoundTrip(t *testing.T) {
	data, err := json.Marshal(struct {
		S Severity `json:"s"`
	}{SeverityWarning})
	require.NoError(t, err)
	assert.JSONEq(t, `{"s":"warning"}`, string(data))

	var out struct {
		S Severity `json:"s"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"s":"critical"}`), &out))
	assert.Equal(t, SeverityCritical, out.S)

	_, err = ParseSeverity("loud")
	assert.Error(t, err)

	s, err := ParseSeverity("WARN")
	require.NoError(t, err)
	assert.Equal(t, SeverityWarning, s)
}

func TestEventType_IsCompletion(t *testing.T) {
	assert.True(t, EventContractCompleted.IsCompletion())
	assert.True(t, EventContractFailed.IsCompletion())
	assert.True(t, EventExecutionTimeout.IsCompletion())
	assert.False(t, EventExecutionInterrupted.IsCompletion())
	assert.False(t, EventProgress.IsCompletion())
}
