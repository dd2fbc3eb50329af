package conf

import (
	"time"

	"google.golang.org/protobuf/types/known/durationpb"
)

// Bootstrap is the root configuration tree.
type Bootstrap struct {
	Server       *Server
	Data         *Data
	Log          *Log
	Resilience   *Resilience
	Fetch        *Fetch
	FlightSearch *FlightSearch
	Irrops       *Irrops
	Cron         *Cron
}

// Server holds the transport settings.
type Server struct {
	Http *Server_HTTP
}

// Server_HTTP holds the HTTP listener settings.
type Server_HTTP struct {
	Network string
	Addr    string
	Timeout *durationpb.Duration
}

// Data holds storage settings.
type Data struct {
	Database *Data_Database
	Redis    *Data_Redis
}

// Data_Database configures the audit log database. An empty Source disables it.
type Data_Database struct {
	Driver string
	Source string
}

// Data_Redis configures the shared cache. An empty Addr disables it.
type Data_Redis struct {
	Network      string
	Addr         string
	Password     string
	Db           int32
	ReadTimeout  *durationpb.Duration
	WriteTimeout *durationpb.Duration
}

// Log configures pkg/log.
type Log struct {
	Level      string
	Format     string
	Env        string
	OutputFile string
}

// Resilience configures the per-target breakers and limiters.
type Resilience struct {
	Breaker *Resilience_Breaker
	Limiter *Resilience_Limiter
	// Hosts overrides Limiter for individual targets.
	Hosts map[string]*Resilience_Limiter
}

// Resilience_Breaker mirrors resilience.BreakerConfig.
type Resilience_Breaker struct {
	FailureThreshold int32
	SuccessThreshold int32
	ResetTimeout     *durationpb.Duration
	MonitoringPeriod *durationpb.Duration
	Timeout          *durationpb.Duration
	HalfOpenMaxCalls int32
}

// Resilience_Limiter mirrors resilience.LimiterConfig.
type Resilience_Limiter struct {
	MinTime                  *durationpb.Duration
	MaxConcurrent            int32
	Reservoir                int32
	ReservoirRefreshAmount   int32
	ReservoirRefreshInterval *durationpb.Duration
}

// Fetch configures the outbound HTTP client.
type Fetch struct {
	Allowlist     []string
	Timeout       *durationpb.Duration
	Retries       int32
	ProxyUrl      string
	BaseDelay     *durationpb.Duration
	MaxDelay      *durationpb.Duration
	Multiplier    float64
	MaxRetryAfter *durationpb.Duration
}

// FlightSearch configures the alternative flight search provider.
type FlightSearch struct {
	BaseUrl   string
	ApiKey    string
	Target    string
	Timeout   *durationpb.Duration
	Retries   int32
	CacheSize int32
	CacheTtl  *durationpb.Duration
}

// Irrops configures the rebooking engine.
type Irrops struct {
	MaxAlternativesPerSegment int32
	DefaultCurrency           string
	AuditBuffer               int32
}

// Cron configures background jobs.
type Cron struct {
	SnapshotSpec string
	SnapshotTtl  *durationpb.Duration
}

// GetTimeout returns the HTTP server timeout or zero.
func (x *Server_HTTP) GetTimeout() time.Duration {
	if x == nil {
		return 0
	}
	return x.Timeout.AsDuration()
}

// GetTimeout returns the default outbound request timeout or zero.
func (x *Fetch) GetTimeout() time.Duration {
	if x == nil {
		return 0
	}
	return x.Timeout.AsDuration()
}

// GetTimeout returns the flight search request timeout or zero.
func (x *FlightSearch) GetTimeout() time.Duration {
	if x == nil {
		return 0
	}
	return x.Timeout.AsDuration()
}
