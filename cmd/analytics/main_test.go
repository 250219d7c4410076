package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func runCLI(t *testing.T, args []string, stdin string) (int, map[string]any) {
	t.Helper()
	var out bytes.Buffer
	code := run(args, strings.NewReader(stdin), &out)
	var envelope map[string]any
	if err := json.Unmarshal(out.Bytes(), &envelope); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out.String())
	}
	return code, envelope
}

func TestRunSuccess(t *testing.T) {
	t.Parallel()
	code, env := runCLI(t, []string{"sma"}, `{"values": [1, 2, 3, 4, 5], "period": 3}`)
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if env["ok"] != true {
		t.Fatalf("ok = %v, want true", env["ok"])
	}
	result, ok := env["result"].(map[string]any)
	if !ok {
		t.Fatalf("result missing: %v", env)
	}
	if result["sma"] != 4.0 {
		t.Errorf("sma = %v, want 4", result["sma"])
	}
}

func TestRunInBandErrorStillSucceeds(t *testing.T) {
	t.Parallel()
	code, env := runCLI(t, []string{"sma"}, `{"values": [1], "period": 3}`)
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	result := env["result"].(map[string]any)
	if result["error"] != "not enough values" {
		t.Errorf("result.error = %v", result["error"])
	}
}

func TestRunEmptyStdinDefaultsToEmptyPayload(t *testing.T) {
	t.Parallel()
	code, env := runCLI(t, []string{"orderbook_imbalance"}, "  \n")
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	result := env["result"].(map[string]any)
	if result["depth"] != 5.0 {
		t.Errorf("depth = %v, want 5", result["depth"])
	}
}

func TestRunMissingName(t *testing.T) {
	t.Parallel()
	code, env := runCLI(t, nil, "")
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if env["error"] != "script name required" {
		t.Errorf("error = %v", env["error"])
	}
}

func TestRunUnknownScript(t *testing.T) {
	t.Parallel()
	code, env := runCLI(t, []string{"macd"}, "{}")
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if env["error"] != "unknown script" {
		t.Errorf("error = %v", env["error"])
	}
	if env["name"] != "macd" {
		t.Errorf("name = %v", env["name"])
	}
}

func TestRunInvalidJSON(t *testing.T) {
	t.Parallel()
	code, env := runCLI(t, []string{"sma"}, "{not json")
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if env["error"] != "invalid json" {
		t.Errorf("error = %v", env["error"])
	}
	if env["details"] == nil {
		t.Error("details missing")
	}
}

func TestRunOperationFailure(t *testing.T) {
	t.Parallel()
	// session_status with an unparseable timestamp returns a Go error, which
	// the runner reports as ok=false.
	code, env := runCLI(t, []string{"session_status"}, `{"timestamp": "garbage"}`)
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if env["ok"] != false {
		t.Fatalf("ok = %v, want false", env["ok"])
	}
	if env["error"] == nil {
		t.Error("error missing")
	}
}

func TestRunKeepsUnicodeReadable(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	code := run([]string{"fee_estimate"}, strings.NewReader(`{"trade_value": 100000}`), &out)
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if !strings.Contains(out.String(), "оценка по диапазону комиссий") {
		t.Errorf("note not emitted as UTF-8: %s", out.String())
	}
}
