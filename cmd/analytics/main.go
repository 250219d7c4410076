// Analytics runner — executes one named analytics operation against a JSON
// payload read from stdin and prints a JSON envelope to stdout.
//
// Usage:
//
//	analytics <operation> < payload.json
//
// Success prints {"ok": true, "result": {...}} and exits 0. Validation
// problems the operation reports in-band (an "error" key in the result)
// still count as success; only payloads the runner or the operation cannot
// process at all produce {"ok": false, "error": "..."} and exit 1.
package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"

	"bcs-ingest/internal/analytics"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout))
}

func run(args []string, in io.Reader, out io.Writer) int {
	if len(args) < 1 {
		emit(out, map[string]any{"error": "script name required"})
		return 1
	}
	name := args[0]

	raw, err := io.ReadAll(in)
	if err != nil {
		emit(out, map[string]any{"error": "read stdin", "details": err.Error()})
		return 1
	}
	payload := bytes.TrimSpace(raw)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	var probe any
	if err := json.Unmarshal(payload, &probe); err != nil {
		emit(out, map[string]any{"error": "invalid json", "details": err.Error()})
		return 1
	}

	if !analytics.Known(name) {
		emit(out, map[string]any{"error": "unknown script", "name": name})
		return 1
	}

	result, err := analytics.Run(name, payload)
	if err != nil {
		emit(out, map[string]any{"ok": false, "error": err.Error()})
		return 1
	}
	emit(out, map[string]any{"ok": true, "result": result})
	return 0
}

// emit writes one JSON line. HTML escaping is off so the Russian notes in
// fee estimates stay readable.
func emit(out io.Writer, v any) {
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		io.WriteString(os.Stderr, "encode output: "+err.Error()+"\n")
	}
}
