package config_test

import (
	"errors"
	"testing"
	"time"

	"automate-metashape/internal/config"
	"automate-metashape/internal/services"
)

func envMap(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestLoadRuntimeDefaults(t *testing.T) {
	rt, err := config.LoadRuntime(envMap(nil))
	if err != nil {
		t.Fatalf("LoadRuntime returned error: %v", err)
	}
	if rt.Retry.MaxRetries != 0 || rt.Retry.Interval != 300*time.Second || rt.Retry.CheckLines != 20 {
		t.Fatalf("unexpected retry defaults %+v", rt.Retry)
	}
	if rt.Monitor.ProgressIntervalPct != 1 || rt.Monitor.HeartbeatInterval != time.Minute || rt.Monitor.BufferSize != 100 {
		t.Fatalf("unexpected monitor defaults %+v", rt.Monitor)
	}
	if rt.Monitor.LogDir != "" || rt.Monitor.FullOutput() {
		t.Fatalf("unexpected monitor defaults %+v", rt.Monitor)
	}
}

func TestLoadRuntimeOverrides(t *testing.T) {
	rt, err := config.LoadRuntime(envMap(map[string]string{
		config.EnvLicenseMaxRetries:    "-1",
		config.EnvLicenseRetryInterval: "5",
		config.EnvLicenseCheckLines:    "6",
		config.EnvProgressIntervalPct:  "2.5",
		config.EnvLogHeartbeatInterval: "0",
		config.EnvLogBufferSize:        "7",
		config.EnvLogOutputDir:         "/var/log/metashape",
	}))
	if err != nil {
		t.Fatalf("LoadRuntime returned error: %v", err)
	}
	if !rt.Retry.Unlimited() || rt.Retry.Interval != 5*time.Second || rt.Retry.CheckLines != 6 {
		t.Fatalf("unexpected retry %+v", rt.Retry)
	}
	if rt.Monitor.ProgressIntervalPct != 2.5 || !rt.Monitor.FullOutput() || rt.Monitor.BufferSize != 7 {
		t.Fatalf("unexpected monitor %+v", rt.Monitor)
	}
	if rt.Monitor.EchoLines != 6 {
		t.Fatalf("echo window = %d, want the licence check window", rt.Monitor.EchoLines)
	}
	if rt.Monitor.LogDir != "/var/log/metashape" {
		t.Fatalf("unexpected log dir %q", rt.Monitor.LogDir)
	}
}

func TestLoadRuntimeRejectsMalformed(t *testing.T) {
	for key, value := range map[string]string{
		config.EnvLicenseMaxRetries:    "-2",
		config.EnvLicenseRetryInterval: "soon",
		config.EnvProgressIntervalPct:  "0",
		config.EnvLogBufferSize:        "0",
		config.EnvLogHeartbeatInterval: "-5",
	} {
		_, err := config.LoadRuntime(envMap(map[string]string{key: value}))
		if !errors.Is(err, services.ErrConfiguration) {
			t.Fatalf("%s=%s: expected configuration error, got %v", key, value, err)
		}
	}
}

func TestRetryPolicyAllowsRetry(t *testing.T) {
	none := config.RetryPolicy{MaxRetries: 0}
	if none.AllowsRetry(1) {
		t.Fatal("max_retries=0 must not retry")
	}
	bounded := config.RetryPolicy{MaxRetries: 2}
	if !bounded.AllowsRetry(1) || !bounded.AllowsRetry(2) || bounded.AllowsRetry(3) {
		t.Fatal("max_retries=2 must allow exactly two retries")
	}
	unlimited := config.RetryPolicy{MaxRetries: config.UnlimitedRetries}
	if !unlimited.AllowsRetry(1000) {
		t.Fatal("unlimited policy must always retry")
	}
}
