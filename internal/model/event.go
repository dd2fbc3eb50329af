package model

import "time"

// IrropsRunEvent records the outcome of one rebooking run.
type IrropsRunEvent struct {
	RunID          string
	RecordLocator  string
	DisruptionType DisruptionType
	Severity       Severity
	OptionCount    int
	Duration       time.Duration
	Success        bool
	Error          string
}

// BreakerTransitionEvent records a circuit breaker state change.
type BreakerTransitionEvent struct {
	Target string
	From   string
	To     string
	At     time.Time
	Manual bool
}

// BreakerSnapshot is the persisted view of one breaker.
type BreakerSnapshot struct {
	Target          string    `json:"target"`
	State           string    `json:"state"`
	FailureCount    int       `json:"failure_count"`
	SuccessCount    int       `json:"success_count"`
	LastFailureTime time.Time `json:"last_failure_time"`
	LastStateChange time.Time `json:"last_state_change"`
	TotalCalls      int64     `json:"total_calls"`
	TotalFailures   int64     `json:"total_failures"`
	TotalRejections int64     `json:"total_rejections"`
	TotalTimeouts   int64     `json:"total_timeouts"`
	CapturedAt      time.Time `json:"captured_at"`
}
