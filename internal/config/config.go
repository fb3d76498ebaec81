// Package config loads the CLI surface in spec §6 from flags and
// NEUROPLC_* environment variables, CLI winning on conflict — the same
// getEnv/getEnvInt-plus-flags shape the teacher's config loader uses,
// generalized to flag.FlagSet since this is a single binary, not a
// multi-source .properties file.
package config

import (
	"flag"
	"os"
	"strconv"
	"time"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	MetricsAddr      string
	AuditLogPath     string
	BridgeAddr       string
	NoBridge         bool
	RequireHandshake bool
	AuthSecret       string
	AuthMaxAge       time.Duration
	TLSCertPath      string
	TLSKeyPath       string
	RunSeconds       int
	CyclePeriodUS    int
	MinRPM           float64
	MaxRPM           float64
	MaxRateRPM       float64
	MaxTempC         float64
	WarmupCycles     int
	DisableRateLimit bool
	StateStaleUS     int
	BridgeProtocol   string // "json" | "binary"
	KafkaBrokers     string // comma-separated, empty disables the mirror
	LogDir           string
	JSONLogs         bool
	StopOnSafe       bool
}

// Defaults mirrors the binding answers to spec §9's open questions plus
// every other documented default.
func Defaults() Config {
	return Config{
		MetricsAddr:      ":9300",
		AuditLogPath:     "./audit.jsonl",
		BridgeAddr:       ":7300",
		AuthMaxAge:       30 * time.Second,
		RunSeconds:       0,
		CyclePeriodUS:    1000,
		MinRPM:           0,
		MaxRPM:           3000,
		MaxRateRPM:       50,
		MaxTempC:         80,
		WarmupCycles:     100,
		StateStaleUS:     500000,
		BridgeProtocol:   "json",
	}
}

// Load parses args against the default flag set, then fills any flag not
// explicitly passed on the command line from the matching NEUROPLC_*
// environment variable, overriding its default. Flags explicitly passed on
// the command line always win.
func Load(args []string) (Config, error) {
	cfg := Defaults()
	fs := flag.NewFlagSet("neuroplc", flag.ContinueOnError)

	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "admin/metrics HTTP bind address")
	fs.StringVar(&cfg.AuditLogPath, "audit-log", cfg.AuditLogPath, "path to the append-only audit log")
	fs.StringVar(&cfg.BridgeAddr, "bridge-addr", cfg.BridgeAddr, "bridge TCP bind address")
	fs.BoolVar(&cfg.NoBridge, "no-bridge", cfg.NoBridge, "disable the bridge listener")
	fs.BoolVar(&cfg.RequireHandshake, "require-handshake", cfg.RequireHandshake, "require a hello frame before recommendations are admitted")
	fs.StringVar(&cfg.AuthSecret, "auth-secret", cfg.AuthSecret, "HMAC secret for bridge token auth; empty disables auth")
	maxAgeSecs := fs.Int("auth-max-age", int(cfg.AuthMaxAge/time.Second), "token max age / skew window, seconds")
	fs.StringVar(&cfg.TLSCertPath, "tls-cert", cfg.TLSCertPath, "PEM certificate path for the bridge listener")
	fs.StringVar(&cfg.TLSKeyPath, "tls-key", cfg.TLSKeyPath, "PEM key path for the bridge listener")
	fs.IntVar(&cfg.RunSeconds, "run-seconds", cfg.RunSeconds, "run for N seconds then exit cleanly; 0 runs until signalled")
	fs.IntVar(&cfg.CyclePeriodUS, "cycle-period-us", cfg.CyclePeriodUS, "iron thread cycle period, microseconds")
	fs.Float64Var(&cfg.MinRPM, "min-rpm", cfg.MinRPM, "minimum allowed setpoint")
	fs.Float64Var(&cfg.MaxRPM, "max-rpm", cfg.MaxRPM, "maximum allowed setpoint")
	fs.Float64Var(&cfg.MaxRateRPM, "max-rate-rpm", cfg.MaxRateRPM, "maximum per-cycle rate of change")
	fs.Float64Var(&cfg.MaxTempC, "max-temp-c", cfg.MaxTempC, "temperature interlock threshold")
	fs.IntVar(&cfg.WarmupCycles, "warmup-cycles", cfg.WarmupCycles, "cycles after startup during which only a zero target is accepted")
	fs.IntVar(&cfg.StateStaleUS, "state-stale-us", cfg.StateStaleUS, "age beyond which a quiet mailbox is treated as stale, microseconds")
	fs.BoolVar(&cfg.DisableRateLimit, "disable-rate-limit", cfg.DisableRateLimit, "disable the rate-limit check (testing only; audited)")
	fs.StringVar(&cfg.BridgeProtocol, "bridge-protocol", cfg.BridgeProtocol, "bridge wire framing: json or binary")
	fs.StringVar(&cfg.KafkaBrokers, "kafka-brokers", cfg.KafkaBrokers, "comma-separated Kafka brokers for the telemetry mirror; empty disables it")
	fs.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "directory for log file output; empty logs to stdout only")
	fs.BoolVar(&cfg.JSONLogs, "json-logs", cfg.JSONLogs, "emit JSON structured logs instead of text")
	fs.BoolVar(&cfg.StopOnSafe, "stop-on-safe", cfg.StopOnSafe, "exit the process once the supervisor latches Safe")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	cfg.AuthMaxAge = time.Duration(*maxAgeSecs) * time.Second

	applyEnvOverride(fs, explicit, "metrics-addr", "NEUROPLC_METRICS_ADDR", &cfg.MetricsAddr)
	applyEnvOverride(fs, explicit, "audit-log", "NEUROPLC_AUDIT_LOG", &cfg.AuditLogPath)
	applyEnvOverride(fs, explicit, "bridge-addr", "NEUROPLC_BRIDGE_ADDR", &cfg.BridgeAddr)
	applyEnvOverrideBool(explicit, "no-bridge", "NEUROPLC_NO_BRIDGE", &cfg.NoBridge)
	applyEnvOverrideBool(explicit, "require-handshake", "NEUROPLC_REQUIRE_HANDSHAKE", &cfg.RequireHandshake)
	applyEnvOverride(fs, explicit, "auth-secret", "NEUROPLC_AUTH_SECRET", &cfg.AuthSecret)
	applyEnvOverrideInt(explicit, "auth-max-age", "NEUROPLC_AUTH_MAX_AGE", func(v int) { cfg.AuthMaxAge = time.Duration(v) * time.Second })
	applyEnvOverride(fs, explicit, "tls-cert", "NEUROPLC_TLS_CERT", &cfg.TLSCertPath)
	applyEnvOverride(fs, explicit, "tls-key", "NEUROPLC_TLS_KEY", &cfg.TLSKeyPath)
	applyEnvOverrideInt(explicit, "run-seconds", "NEUROPLC_RUN_SECONDS", func(v int) { cfg.RunSeconds = v })
	applyEnvOverrideInt(explicit, "cycle-period-us", "NEUROPLC_CYCLE_PERIOD_US", func(v int) { cfg.CyclePeriodUS = v })
	applyEnvOverrideFloat(explicit, "min-rpm", "NEUROPLC_MIN_RPM", func(v float64) { cfg.MinRPM = v })
	applyEnvOverrideFloat(explicit, "max-rpm", "NEUROPLC_MAX_RPM", func(v float64) { cfg.MaxRPM = v })
	applyEnvOverrideFloat(explicit, "max-rate-rpm", "NEUROPLC_MAX_RATE_RPM", func(v float64) { cfg.MaxRateRPM = v })
	applyEnvOverrideFloat(explicit, "max-temp-c", "NEUROPLC_MAX_TEMP_C", func(v float64) { cfg.MaxTempC = v })
	applyEnvOverrideInt(explicit, "warmup-cycles", "NEUROPLC_WARMUP_CYCLES", func(v int) { cfg.WarmupCycles = v })
	applyEnvOverrideInt(explicit, "state-stale-us", "NEUROPLC_STATE_STALE_US", func(v int) { cfg.StateStaleUS = v })
	applyEnvOverrideBool(explicit, "disable-rate-limit", "NEUROPLC_DISABLE_RATE_LIMIT", &cfg.DisableRateLimit)
	applyEnvOverride(fs, explicit, "bridge-protocol", "NEUROPLC_BRIDGE_PROTOCOL", &cfg.BridgeProtocol)
	applyEnvOverride(fs, explicit, "kafka-brokers", "NEUROPLC_KAFKA_BROKERS", &cfg.KafkaBrokers)
	applyEnvOverride(fs, explicit, "log-dir", "NEUROPLC_LOG_DIR", &cfg.LogDir)
	applyEnvOverrideBool(explicit, "json-logs", "NEUROPLC_JSON_LOGS", &cfg.JSONLogs)
	applyEnvOverrideBool(explicit, "stop-on-safe", "NEUROPLC_STOP_ON_SAFE", &cfg.StopOnSafe)

	return cfg, nil
}

func applyEnvOverride(fs *flag.FlagSet, explicit map[string]bool, flagName, envName string, dst *string) {
	if explicit[flagName] {
		return
	}
	if v, ok := os.LookupEnv(envName); ok {
		*dst = v
	}
}

func applyEnvOverrideBool(explicit map[string]bool, flagName, envName string, dst *bool) {
	if explicit[flagName] {
		return
	}
	if v, ok := os.LookupEnv(envName); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func applyEnvOverrideInt(explicit map[string]bool, flagName, envName string, set func(int)) {
	if explicit[flagName] {
		return
	}
	if v, ok := os.LookupEnv(envName); ok {
		if n, err := strconv.Atoi(v); err == nil {
			set(n)
		}
	}
}

func applyEnvOverrideFloat(explicit map[string]bool, flagName, envName string, set func(float64)) {
	if explicit[flagName] {
		return
	}
	if v, ok := os.LookupEnv(envName); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			set(f)
		}
	}
}
