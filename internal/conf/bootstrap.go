// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment variables.
package conf

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
	"google.golang.org/protobuf/types/known/durationpb"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "WAYFARER"

// DefaultAllowlist is used when neither the config file nor WAYFARER_FETCH_ALLOWLIST sets one.
var DefaultAllowlist = []string{
	"api.open-meteo.com",
	"geocoding-api.open-meteo.com",
	"restcountries.com",
	"api.opentripmap.com",
	"test.api.amadeus.com",
	"api.amadeus.com",
	"api.search.brave.com",
	"api.vectara.io",
}

// NewBootstrap creates and initializes a Bootstrap configuration.
// It loads configuration from the specified config file path, applies defaults,
// and allows overrides from environment variables prefixed with WAYFARER_.
//
// Configuration priority: Environment variables > Config file > Defaults
//
// Useful environment variables:
//   - MYSQL_DSN or WAYFARER_DATA_DATABASE_SOURCE: audit log database (optional)
//   - WAYFARER_FETCH_ALLOWLIST: comma separated list of approved provider hosts
//   - AMADEUS_API_KEY or WAYFARER_FLIGHT_SEARCH_API_KEY: flight search credentials
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("data.database.source", "MYSQL_DSN", "WAYFARER_DATA_DATABASE_SOURCE")
	_ = v.BindEnv("data.redis.addr", "REDIS_ADDR", "WAYFARER_DATA_REDIS_ADDR")
	_ = v.BindEnv("fetch.allowlist", "WAYFARER_FETCH_ALLOWLIST")
	_ = v.BindEnv("flight_search.api_key", "AMADEUS_API_KEY", "WAYFARER_FLIGHT_SEARCH_API_KEY")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	bc := &Bootstrap{
		Server: &Server{
			Http: &Server_HTTP{
				Network: v.GetString("server.http.network"),
				Addr:    v.GetString("server.http.addr"),
				Timeout: durationpb.New(v.GetDuration("server.http.timeout")),
			},
		},
		Data: &Data{
			Database: &Data_Database{
				Driver: v.GetString("data.database.driver"),
				Source: v.GetString("data.database.source"),
			},
			Redis: &Data_Redis{
				Network:      v.GetString("data.redis.network"),
				Addr:         v.GetString("data.redis.addr"),
				Password:     v.GetString("data.redis.password"),
				Db:           v.GetInt32("data.redis.db"),
				ReadTimeout:  durationpb.New(v.GetDuration("data.redis.read_timeout")),
				WriteTimeout: durationpb.New(v.GetDuration("data.redis.write_timeout")),
			},
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
		},
		Resilience: &Resilience{
			Breaker: &Resilience_Breaker{
				FailureThreshold: v.GetInt32("resilience.breaker.failure_threshold"),
				SuccessThreshold: v.GetInt32("resilience.breaker.success_threshold"),
				ResetTimeout:     durationpb.New(v.GetDuration("resilience.breaker.reset_timeout")),
				MonitoringPeriod: durationpb.New(v.GetDuration("resilience.breaker.monitoring_period")),
				Timeout:          durationpb.New(v.GetDuration("resilience.breaker.timeout")),
				HalfOpenMaxCalls: v.GetInt32("resilience.breaker.half_open_max_calls"),
			},
			Limiter: readLimiter(v, "resilience.limiter"),
			Hosts:   readHostLimiters(v),
		},
		Fetch: &Fetch{
			Allowlist:     readAllowlist(v),
			Timeout:       durationpb.New(v.GetDuration("fetch.timeout")),
			Retries:       v.GetInt32("fetch.retries"),
			ProxyUrl:      v.GetString("fetch.proxy_url"),
			BaseDelay:     durationpb.New(v.GetDuration("fetch.base_delay")),
			MaxDelay:      durationpb.New(v.GetDuration("fetch.max_delay")),
			Multiplier:    v.GetFloat64("fetch.multiplier"),
			MaxRetryAfter: durationpb.New(v.GetDuration("fetch.max_retry_after")),
		},
		FlightSearch: &FlightSearch{
			BaseUrl:   v.GetString("flight_search.base_url"),
			ApiKey:    v.GetString("flight_search.api_key"),
			Target:    v.GetString("flight_search.target"),
			Timeout:   durationpb.New(v.GetDuration("flight_search.timeout")),
			Retries:   v.GetInt32("flight_search.retries"),
			CacheSize: v.GetInt32("flight_search.cache_size"),
			CacheTtl:  durationpb.New(v.GetDuration("flight_search.cache_ttl")),
		},
		Irrops: &Irrops{
			MaxAlternativesPerSegment: v.GetInt32("irrops.max_alternatives_per_segment"),
			DefaultCurrency:           v.GetString("irrops.default_currency"),
			AuditBuffer:               v.GetInt32("irrops.audit_buffer"),
		},
		Cron: &Cron{
			SnapshotSpec: v.GetString("cron.snapshot_spec"),
			SnapshotTtl:  durationpb.New(v.GetDuration("cron.snapshot_ttl")),
		},
	}

	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

func readLimiter(v *viper.Viper, prefix string) *Resilience_Limiter {
	return &Resilience_Limiter{
		MinTime:                  durationpb.New(v.GetDuration(prefix + ".min_time")),
		MaxConcurrent:            v.GetInt32(prefix + ".max_concurrent"),
		Reservoir:                v.GetInt32(prefix + ".reservoir"),
		ReservoirRefreshAmount:   v.GetInt32(prefix + ".reservoir_refresh_amount"),
		ReservoirRefreshInterval: durationpb.New(v.GetDuration(prefix + ".reservoir_refresh_interval")),
	}
}

var limiterKeys = []string{"min_time", "max_concurrent", "reservoir", "reservoir_refresh_amount", "reservoir_refresh_interval"}

// readHostLimiters reads resilience.hosts.<host>. Unset fields inherit resilience.limiter.
func readHostLimiters(v *viper.Viper) map[string]*Resilience_Limiter {
	raw := v.GetStringMap("resilience.hosts")
	if len(raw) == 0 {
		return nil
	}

	hosts := make(map[string]*Resilience_Limiter, len(raw))
	for host, val := range raw {
		sub := viper.New()
		for _, key := range limiterKeys {
			sub.SetDefault("l."+key, v.Get("resilience.limiter."+key))
		}
		// host names contain dots, so the override map is read as a value
		// rather than through nested viper keys
		if m, ok := val.(map[string]interface{}); ok {
			for key, x := range m {
				sub.Set("l."+strings.ToLower(key), x)
			}
		}
		hosts[strings.ToLower(host)] = readLimiter(sub, "l")
	}
	return hosts
}

// readAllowlist accepts a YAML list or a comma separated string.
func readAllowlist(v *viper.Viper) []string {
	var out []string
	for _, entry := range v.GetStringSlice("fetch.allowlist") {
		for _, h := range strings.Split(entry, ",") {
			if h = strings.TrimSpace(h); h != "" {
				out = append(out, strings.ToLower(h))
			}
		}
	}
	return out
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":8080")
	v.SetDefault("server.http.timeout", 30*time.Second)

	// Data defaults
	v.SetDefault("data.database.driver", "mysql")
	// Note: data.database.source (MYSQL_DSN) is optional, audit logging is skipped without it
	v.SetDefault("data.redis.network", "tcp")
	v.SetDefault("data.redis.addr", "127.0.0.1:6379")
	v.SetDefault("data.redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 200*time.Millisecond)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Resilience defaults
	v.SetDefault("resilience.breaker.failure_threshold", 5)
	v.SetDefault("resilience.breaker.success_threshold", 2)
	v.SetDefault("resilience.breaker.reset_timeout", 30*time.Second)
	v.SetDefault("resilience.breaker.monitoring_period", 60*time.Second)
	v.SetDefault("resilience.breaker.timeout", 12*time.Second)
	v.SetDefault("resilience.breaker.half_open_max_calls", 1)
	v.SetDefault("resilience.limiter.min_time", 100*time.Millisecond)
	v.SetDefault("resilience.limiter.max_concurrent", 5)
	v.SetDefault("resilience.limiter.reservoir", 60)
	v.SetDefault("resilience.limiter.reservoir_refresh_amount", 60)
	v.SetDefault("resilience.limiter.reservoir_refresh_interval", time.Minute)

	// Fetch defaults
	v.SetDefault("fetch.allowlist", DefaultAllowlist)
	v.SetDefault("fetch.timeout", 10*time.Second)
	v.SetDefault("fetch.retries", 2)
	v.SetDefault("fetch.base_delay", 200*time.Millisecond)
	v.SetDefault("fetch.max_delay", 10*time.Second)
	v.SetDefault("fetch.multiplier", 1.5)
	v.SetDefault("fetch.max_retry_after", 30*time.Second)

	// Flight search defaults
	v.SetDefault("flight_search.base_url", "https://test.api.amadeus.com/v2/shopping/flight-offers")
	v.SetDefault("flight_search.target", "amadeus")
	v.SetDefault("flight_search.timeout", 8*time.Second)
	v.SetDefault("flight_search.retries", 1)
	v.SetDefault("flight_search.cache_size", 512)
	v.SetDefault("flight_search.cache_ttl", 5*time.Minute)

	// IRROPS defaults
	v.SetDefault("irrops.max_alternatives_per_segment", 5)
	v.SetDefault("irrops.default_currency", "USD")
	v.SetDefault("irrops.audit_buffer", 1000)

	// Cron defaults
	v.SetDefault("cron.snapshot_spec", "@every 1m")
	v.SetDefault("cron.snapshot_ttl", 24*time.Hour)
}

// Validate checks that all required configuration fields are present and valid.
// It returns an error listing every invalid field.
func Validate(bc *Bootstrap) error {
	var invalid []string

	if bc.Server == nil || bc.Server.Http == nil || bc.Server.Http.Addr == "" {
		invalid = append(invalid, "server.http.addr")
	}

	if b := bc.Resilience.GetBreaker(); b == nil {
		invalid = append(invalid, "resilience.breaker")
	} else {
		if b.FailureThreshold <= 0 {
			invalid = append(invalid, "resilience.breaker.failure_threshold (must be > 0)")
		}
		if b.SuccessThreshold <= 0 {
			invalid = append(invalid, "resilience.breaker.success_threshold (must be > 0)")
		}
		if b.ResetTimeout.AsDuration() <= 0 {
			invalid = append(invalid, "resilience.breaker.reset_timeout (must be > 0)")
		}
	}

	if l := bc.Resilience.GetLimiter(); l != nil {
		if l.MaxConcurrent < 0 || l.Reservoir < 0 || l.ReservoirRefreshAmount < 0 {
			invalid = append(invalid, "resilience.limiter (negative values)")
		}
	}

	var allowlist []string
	if bc.Fetch != nil {
		allowlist = bc.Fetch.Allowlist
		if bc.Fetch.Retries < 0 {
			invalid = append(invalid, "fetch.retries (must be >= 0)")
		}
		if bc.Fetch.ProxyUrl != "" {
			if u, err := url.Parse(bc.Fetch.ProxyUrl); err != nil || u.Host == "" {
				invalid = append(invalid, "fetch.proxy_url (invalid URL)")
			}
		}
	}
	if len(allowlist) == 0 {
		invalid = append(invalid, "fetch.allowlist (WAYFARER_FETCH_ALLOWLIST)")
	}

	if fs := bc.FlightSearch; fs != nil && fs.BaseUrl != "" {
		u, err := url.Parse(fs.BaseUrl)
		switch {
		case err != nil || u.Hostname() == "":
			invalid = append(invalid, "flight_search.base_url (invalid URL)")
		case !hostAllowed(allowlist, u.Hostname()):
			invalid = append(invalid, "flight_search.base_url (host not in fetch.allowlist)")
		}
	}

	// a breaker that times out before the fetch layer does cuts every slow
	// provider call short and counts it as a failure
	if b := bc.Resilience.GetBreaker(); b != nil && b.Timeout.AsDuration() > 0 {
		longest := bc.Fetch.GetTimeout()
		if fs := bc.FlightSearch.GetTimeout(); fs > longest {
			longest = fs
		}
		if b.Timeout.AsDuration() < longest {
			invalid = append(invalid, fmt.Sprintf("resilience.breaker.timeout (must be >= %s, the longest fetch timeout)", longest))
		}
	}

	// overrides are keyed by a breaker target or an allowlisted host, any
	// other key would never be consulted
	if bc.Resilience != nil {
		target := ""
		if bc.FlightSearch != nil {
			target = strings.ToLower(bc.FlightSearch.Target)
		}
		keys := make([]string, 0, len(bc.Resilience.Hosts))
		for key := range bc.Resilience.Hosts {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			if key != target && !hostAllowed(allowlist, key) {
				invalid = append(invalid, fmt.Sprintf("resilience.hosts.%s (not a target or allowlisted host)", key))
			}
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid configuration fields: %s", strings.Join(invalid, ", "))
	}

	return nil
}

func hostAllowed(allowlist []string, host string) bool {
	host = strings.ToLower(host)
	for _, h := range allowlist {
		if h == host || (strings.HasPrefix(h, "*.") && strings.HasSuffix(host, h[1:])) {
			return true
		}
	}
	return false
}

// GetBreaker returns the breaker settings or nil.
func (x *Resilience) GetBreaker() *Resilience_Breaker {
	if x == nil {
		return nil
	}
	return x.Breaker
}

// GetLimiter returns the default limiter settings or nil.
func (x *Resilience) GetLimiter() *Resilience_Limiter {
	if x == nil {
		return nil
	}
	return x.Limiter
}
