package data

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"

	"Wayfarer/internal/conf"
	"Wayfarer/internal/model"
)

const defaultAuditBuffer = 1000

// AuditLog is the GORM model for irrops_audit_logs table
type AuditLog struct {
	ID         int64     `gorm:"primaryKey;column:id"`
	EventType  string    `gorm:"column:event_type;type:varchar(50);not null;index"`
	Subject    string    `gorm:"column:subject;type:varchar(255);not null;index"` // record locator or breaker target
	RunID      string    `gorm:"column:run_id;type:char(26)"`
	Success    bool      `gorm:"column:success;not null"`
	DurationMs int64     `gorm:"column:duration_ms;default:0;not null"`
	Details    string    `gorm:"column:details;type:json"` // JSON string
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM
func (AuditLog) TableName() string {
	return "irrops_audit_logs"
}

// AuditLoggerImpl implements biz.AuditLogger. Events are queued on a buffered
// channel and written by a single goroutine; a full queue drops the event.
type AuditLoggerImpl struct {
	write   func(ctx context.Context, event *AuditLog) error
	logChan chan *AuditLog
	logger  *log.Helper

	closeOnce sync.Once
	done      chan struct{}
}

// NewAuditLogger creates a new audit logger with async channel. A nil db keeps
// the audit trail in the application log only.
func NewAuditLogger(c *conf.Irrops, db *gorm.DB, logger log.Logger) (*AuditLoggerImpl, func()) {
	helper := log.NewHelper(logger)

	var write func(ctx context.Context, event *AuditLog) error
	if db != nil {
		write = func(ctx context.Context, event *AuditLog) error {
			return db.WithContext(ctx).Create(event).Error
		}
	} else {
		helper.Warnw("msg", "audit database unavailable, audit events go to the log only", "type", "audit")
		write = func(_ context.Context, event *AuditLog) error {
			helper.Infow("msg", "audit event",
				"event_type", event.EventType,
				"subject", event.Subject,
				"run_id", event.RunID,
				"success", event.Success,
				"details", event.Details,
				"type", "audit")
			return nil
		}
	}

	buffer := defaultAuditBuffer
	if c != nil && c.AuditBuffer > 0 {
		buffer = int(c.AuditBuffer)
	}

	al := newAuditLogger(write, buffer, helper)
	return al, al.Close
}

func newAuditLogger(write func(ctx context.Context, event *AuditLog) error, buffer int, helper *log.Helper) *AuditLoggerImpl {
	al := &AuditLoggerImpl{
		write:   write,
		logChan: make(chan *AuditLog, buffer),
		logger:  helper,
		done:    make(chan struct{}),
	}

	// Start background goroutine for async logging
	go al.start()

	return al
}

// start processes audit log events from channel
func (a *AuditLoggerImpl) start() {
	defer close(a.done)

	for event := range a.logChan {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.write(ctx, event); err != nil {
			a.logger.Errorw("msg", "failed to write audit log",
				"event_type", event.EventType,
				"subject", event.Subject,
				"error", err.Error(),
				"type", "audit")
		}
		cancel()
	}
}

// Close stops accepting events and waits for queued ones to be written.
func (a *AuditLoggerImpl) Close() {
	a.closeOnce.Do(func() {
		close(a.logChan)
	})
	<-a.done
}

// LogIrropsRun logs the outcome of one rebooking run.
func (a *AuditLoggerImpl) LogIrropsRun(_ context.Context, event *model.IrropsRunEvent) {
	eventType := model.AuditEventIrropsProcessed
	if !event.Success {
		eventType = model.AuditEventIrropsFailed
	}

	details := map[string]interface{}{
		"disruption_type": event.DisruptionType,
		"severity":        event.Severity,
		"option_count":    event.OptionCount,
	}
	if event.Error != "" {
		details["error"] = event.Error
	}

	a.enqueue(&AuditLog{
		EventType:  eventType,
		Subject:    event.RecordLocator,
		RunID:      event.RunID,
		Success:    event.Success,
		DurationMs: event.Duration.Milliseconds(),
		Details:    a.marshal(details),
	})
}

// LogBreakerTransition logs a circuit breaker state change.
func (a *AuditLoggerImpl) LogBreakerTransition(_ context.Context, event *model.BreakerTransitionEvent) {
	a.enqueue(&AuditLog{
		EventType: breakerEventType(event),
		Subject:   event.Target,
		Success:   true,
		Details: a.marshal(map[string]interface{}{
			"from":   event.From,
			"to":     event.To,
			"at":     event.At.Format(time.RFC3339Nano),
			"manual": event.Manual,
		}),
	})
}

func breakerEventType(event *model.BreakerTransitionEvent) string {
	if event.Manual {
		return model.AuditEventCircuitManualReset
	}
	switch event.To {
	case "OPEN":
		return model.AuditEventCircuitOpened
	case "HALF_OPEN":
		return model.AuditEventCircuitHalfOpen
	default:
		return model.AuditEventCircuitClosed
	}
}

func (a *AuditLoggerImpl) marshal(details map[string]interface{}) string {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		a.logger.Errorw("msg", "failed to marshal audit log details", "error", err.Error(), "type", "audit")
		return "{}"
	}
	return string(detailsJSON)
}

func (a *AuditLoggerImpl) enqueue(event *AuditLog) {
	defer func() {
		// send on a closed channel during shutdown
		if recover() != nil {
			a.logger.Warnw("msg", "audit logger closed, dropping event", "event_type", event.EventType, "subject", event.Subject, "type", "audit")
		}
	}()

	// Send to channel (non-blocking)
	select {
	case a.logChan <- event:
	default:
		a.logger.Warnw("msg", "audit log channel full, dropping event",
			"event_type", event.EventType,
			"subject", event.Subject,
			"type", "audit")
	}
}
