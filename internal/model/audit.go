package model

// Audit event type constants
const (
	AuditEventIrropsProcessed    = "IRROPS_PROCESSED"
	AuditEventIrropsFailed       = "IRROPS_FAILED"
	AuditEventCircuitOpened      = "CIRCUIT_OPENED"
	AuditEventCircuitHalfOpen    = "CIRCUIT_HALF_OPEN"
	AuditEventCircuitClosed      = "CIRCUIT_CLOSED"
	AuditEventCircuitManualReset = "CIRCUIT_MANUAL_RESET"
)
