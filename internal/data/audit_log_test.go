package data

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Wayfarer/internal/conf"
	"Wayfarer/internal/model"
)

type recordingWriter struct {
	mu     sync.Mutex
	events []*AuditLog
	err    error
}

func (w *recordingWriter) write(_ context.Context, event *AuditLog) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, event)
	return w.err
}

func TestAuditLogger_IrropsRun(t *testing.T) {
	w := &recordingWriter{}
	al := newAuditLogger(w.write, 10, log.NewHelper(log.DefaultLogger))

	al.LogIrropsRun(context.Background(), &model.IrropsRunEvent{
		RunID:          "01J0000000000000000000000A",
		RecordLocator:  "ABC123",
		DisruptionType: model.DisruptionCancellation,
		Severity:       model.SeverityHigh,
		OptionCount:    3,
		Duration:       1500 * time.Millisecond,
		Success:        true,
	})
	al.LogIrropsRun(context.Background(), &model.IrropsRunEvent{
		RecordLocator: "XYZ789",
		Error:         "context canceled",
	})
	al.Close()

	require.Len(t, w.events, 2)
	ok := w.events[0]
	assert.Equal(t, model.AuditEventIrropsProcessed, ok.EventType)
	assert.Equal(t, "ABC123", ok.Subject)
	assert.Equal(t, int64(1500), ok.DurationMs)

	var details map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(ok.Details), &details))
	assert.Equal(t, "cancellation", details["disruption_type"])
	assert.Equal(t, float64(3), details["option_count"])

	failed := w.events[1]
	assert.Equal(t, model.AuditEventIrropsFailed, failed.EventType)
	assert.False(t, failed.Success)
	assert.Contains(t, failed.Details, "context canceled")
}

func TestAuditLogger_BreakerTransitions(t *testing.T) {
	w := &recordingWriter{}
	al := newAuditLogger(w.write, 10, log.NewHelper(log.DefaultLogger))

	at := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	for _, e := range []*model.BreakerTransitionEvent{
		{Target: "amadeus", From: "CLOSED", To: "OPEN", At: at},
		{Target: "amadeus", From: "OPEN", To: "HALF_OPEN", At: at},
		{Target: "amadeus", From: "HALF_OPEN", To: "CLOSED", At: at},
		{Target: "amadeus", From: "OPEN", To: "CLOSED", At: at, Manual: true},
	} {
		al.LogBreakerTransition(context.Background(), e)
	}
	al.Close()

	require.Len(t, w.events, 4)
	assert.Equal(t, model.AuditEventCircuitOpened, w.events[0].EventType)
	assert.Equal(t, model.AuditEventCircuitHalfOpen, w.events[1].EventType)
	assert.Equal(t, model.AuditEventCircuitClosed, w.events[2].EventType)
	assert.Equal(t, model.AuditEventCircuitManualReset, w.events[3].EventType)
	assert.Equal(t, "amadeus", w.events[3].Subject)
}

func TestAuditLogger_DropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	var written int
	var mu sync.Mutex
	blocking := func(context.Context, *AuditLog) error {
		<-release
		mu.Lock()
		written++
		mu.Unlock()
		return nil
	}
	al := newAuditLogger(blocking, 1, log.NewHelper(log.DefaultLogger))

	// the writer holds one event and the buffer one more, the rest are dropped
	for i := 0; i < 10; i++ {
		al.LogBreakerTransition(context.Background(), &model.BreakerTransitionEvent{Target: "t", To: "OPEN"})
	}
	close(release)
	al.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, written, 2)
	assert.GreaterOrEqual(t, written, 1)
}

func TestAuditLogger_WriteErrorsDoNotStopTheQueue(t *testing.T) {
	w := &recordingWriter{err: errors.New("db down")}
	al := newAuditLogger(w.write, 10, log.NewHelper(log.DefaultLogger))

	al.LogIrropsRun(context.Background(), &model.IrropsRunEvent{RecordLocator: "A"})
	al.LogIrropsRun(context.Background(), &model.IrropsRunEvent{RecordLocator: "B"})
	al.Close()

	assert.Len(t, w.events, 2)
}

func TestAuditLogger_ClosedDropsEvents(t *testing.T) {
	al, cleanup := NewAuditLogger(&conf.Irrops{AuditBuffer: 4}, nil, log.DefaultLogger)
	cleanup()

	assert.NotPanics(t, func() {
		al.LogIrropsRun(context.Background(), &model.IrropsRunEvent{RecordLocator: "A"})
	})
	// Close is idempotent
	assert.NotPanics(t, al.Close)
}
