package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"automate-metashape/internal/services"
)

// Environment variables read by the supervisor and the output monitor.
const (
	EnvLicenseMaxRetries    = "LICENSE_MAX_RETRIES"
	EnvLicenseRetryInterval = "LICENSE_RETRY_INTERVAL"
	EnvLicenseCheckLines    = "LICENSE_CHECK_LINES"
	EnvProgressIntervalPct  = "PROGRESS_INTERVAL_PCT"
	EnvLogHeartbeatInterval = "LOG_HEARTBEAT_INTERVAL"
	EnvLogBufferSize        = "LOG_BUFFER_SIZE"
	EnvLogOutputDir         = "LOG_OUTPUT_DIR"
)

const (
	defaultMaxRetries        = 0
	defaultRetryInterval     = 300 * time.Second
	defaultCheckLines        = 20
	defaultProgressInterval  = 1
	defaultHeartbeatInterval = 60 * time.Second
	defaultBufferSize        = 100
)

// UnlimitedRetries makes the supervisor respawn until the licence is acquired.
const UnlimitedRetries = -1

// RetryPolicy controls licence failure detection and respawning.
type RetryPolicy struct {
	// MaxRetries is 0 for no retry, -1 for unlimited, or n for n extra attempts.
	MaxRetries int
	Interval   time.Duration
	// CheckLines is how many initial output lines are inspected for a licence
	// failure signature.
	CheckLines int
}

// Unlimited reports whether the policy never gives up.
func (p RetryPolicy) Unlimited() bool { return p.MaxRetries == UnlimitedRetries }

// AllowsRetry reports whether another spawn is permitted after attempt
// (1-based) failed on the licence.
func (p RetryPolicy) AllowsRetry(attempt int) bool {
	if p.Unlimited() {
		return true
	}
	return attempt <= p.MaxRetries
}

// MonitorOptions controls how child output is condensed for the console.
type MonitorOptions struct {
	ProgressIntervalPct float64
	// HeartbeatInterval of zero selects full-output mode.
	HeartbeatInterval time.Duration
	BufferSize        int
	LogDir            string
	// EchoLines is how many initial lines of each attempt are printed
	// verbatim, matching the licence check window.
	EchoLines int
}

// FullOutput reports whether every child line is echoed verbatim.
func (o MonitorOptions) FullOutput() bool { return o.HeartbeatInterval == 0 }

// Runtime is the environment-sourced supervisor configuration.
type Runtime struct {
	Retry   RetryPolicy
	Monitor MonitorOptions
}

// DefaultRuntime returns the runtime settings used when no variable is set.
func DefaultRuntime() Runtime {
	return Runtime{
		Retry: RetryPolicy{
			MaxRetries: defaultMaxRetries,
			Interval:   defaultRetryInterval,
			CheckLines: defaultCheckLines,
		},
		Monitor: MonitorOptions{
			ProgressIntervalPct: defaultProgressInterval,
			HeartbeatInterval:   defaultHeartbeatInterval,
			BufferSize:          defaultBufferSize,
			EchoLines:           defaultCheckLines,
		},
	}
}

// LoadRuntime parses the runtime variables through getenv (os.Getenv in
// production). Malformed values are configuration errors.
func LoadRuntime(getenv func(string) string) (Runtime, error) {
	rt := DefaultRuntime()
	if getenv == nil {
		return rt, nil
	}

	var err error
	if rt.Retry.MaxRetries, err = envInt(getenv, EnvLicenseMaxRetries, rt.Retry.MaxRetries, UnlimitedRetries); err != nil {
		return Runtime{}, err
	}
	seconds, err := envInt(getenv, EnvLicenseRetryInterval, int(rt.Retry.Interval/time.Second), 0)
	if err != nil {
		return Runtime{}, err
	}
	rt.Retry.Interval = time.Duration(seconds) * time.Second
	if rt.Retry.CheckLines, err = envInt(getenv, EnvLicenseCheckLines, rt.Retry.CheckLines, 0); err != nil {
		return Runtime{}, err
	}
	rt.Monitor.EchoLines = rt.Retry.CheckLines

	if raw := strings.TrimSpace(getenv(EnvProgressIntervalPct)); raw != "" {
		pct, parseErr := strconv.ParseFloat(raw, 64)
		if parseErr != nil || math.IsNaN(pct) || pct <= 0 || pct > 100 {
			return Runtime{}, services.Wrap(services.ErrConfiguration, "environment", EnvProgressIntervalPct,
				fmt.Sprintf("must be a number in (0, 100], got %q", raw), nil)
		}
		rt.Monitor.ProgressIntervalPct = pct
	}
	seconds, err = envInt(getenv, EnvLogHeartbeatInterval, int(rt.Monitor.HeartbeatInterval/time.Second), 0)
	if err != nil {
		return Runtime{}, err
	}
	rt.Monitor.HeartbeatInterval = time.Duration(seconds) * time.Second
	if rt.Monitor.BufferSize, err = envInt(getenv, EnvLogBufferSize, rt.Monitor.BufferSize, 1); err != nil {
		return Runtime{}, err
	}
	if dir := strings.TrimSpace(getenv(EnvLogOutputDir)); dir != "" {
		expanded, expandErr := expandPath(dir)
		if expandErr != nil {
			return Runtime{}, services.Wrap(services.ErrConfiguration, "environment", EnvLogOutputDir, "", expandErr)
		}
		rt.Monitor.LogDir = expanded
	}
	return rt, nil
}

func envInt(getenv func(string) string, key string, fallback, minimum int) (int, error) {
	raw := strings.TrimSpace(getenv(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < minimum {
		return 0, services.Wrap(services.ErrConfiguration, "environment", key,
			fmt.Sprintf("must be an integer >= %d, got %q", minimum, raw), nil)
	}
	return value, nil
}
