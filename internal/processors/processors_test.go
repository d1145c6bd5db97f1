package processors

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/josephrichard7/proxmox-mpc-sub010/internal/engine"
	"github.com/josephrichard7/proxmox-mpc-sub010/internal/pseudonym"
)

func newTestRegistry() *Registry {
	manager := pseudonym.NewManager("processors-test-salt", zap.NewNop())
	e := engine.New(manager, zap.NewNop())
	return NewRegistry(e, zap.NewNop())
}

func logEntry(message string) map[string]interface{} {
	return map[string]interface{}{
		"timestamp":     "2026-08-20T10:00:00Z",
		"correlationId": "req-123",
		"operation":     "vm.start",
		"phase":         "execute",
		"level":         "info",
		"message":       message,
		"context": map[string]interface{}{
			"workspace":         "/home/jsmith/projects/lab",
			"proxmoxServer":     "192.168.1.50",
			"resourcesAffected": 3,
			"duration":          125,
		},
	}
}

// TestRegistryDispatch tests that each shape reaches its processor and
// unknown shapes fall back to the engine.
func TestRegistryDispatch(t *testing.T) {
	r := newTestRegistry()

	cases := []struct {
		name string
		data interface{}
		want string
	}{
		{"log entries", []interface{}{logEntry("started")}, "log"},
		{"error object", map[string]interface{}{"message": "failed", "stack": "at main"}, "error"},
		{"snapshot", map[string]interface{}{"id": "snap-1", "timestamp": "t", "logs": []interface{}{}}, "error"},
		{"config object", map[string]interface{}{"server": map[string]interface{}{"host": "pve1"}}, "config"},
		{"database export", map[string]interface{}{"vms": []interface{}{map[string]interface{}{"hostname": "pve1"}}}, "database"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, ok := r.For(tc.data)
			if !ok {
				t.Fatal("no processor matched")
			}
			if p.Type() != tc.want {
				t.Errorf("dispatched to %s, want %s", p.Type(), tc.want)
			}
		})
	}

	t.Run("fallback to engine", func(t *testing.T) {
		if _, ok := r.For("plain string with 192.168.1.1"); ok {
			t.Error("plain string matched a processor")
		}
		result, err := r.Process(context.Background(), "plain 192.168.1.1", engine.DefaultOptions())
		if err != nil {
			t.Fatalf("Process failed: %v", err)
		}
		if strings.Contains(result.Data.(string), "192.168.1.1") {
			t.Error("fallback did not anonymize")
		}
	})
}

// TestLogProcessor tests preserved fields and anonymized fields per entry.
func TestLogProcessor(t *testing.T) {
	r := newTestRegistry()

	entries := []interface{}{
		logEntry("connecting to 192.168.1.50 as admin@company.com"),
		logEntry("clean message"),
	}

	result, err := r.Process(context.Background(), entries, engine.DefaultOptions())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	out := result.Data.([]interface{})
	if len(out) != 2 {
		t.Fatalf("entry count changed: %d", len(out))
	}
	first := out[0].(map[string]interface{})

	t.Run("preserved fields", func(t *testing.T) {
		for _, key := range []string{"timestamp", "correlationId", "operation", "phase", "level"} {
			if first[key] != logEntry("")[key] {
				t.Errorf("field %s changed: %v", key, first[key])
			}
		}
	})

	t.Run("message anonymized", func(t *testing.T) {
		msg := first["message"].(string)
		if strings.Contains(msg, "192.168.1.50") || strings.Contains(msg, "admin@company.com") {
			t.Errorf("PII survived in message: %q", msg)
		}
	})

	t.Run("context fields", func(t *testing.T) {
		entryCtx := first["context"].(map[string]interface{})
		if entryCtx["resourcesAffected"] != 3 {
			t.Errorf("resourcesAffected changed: %v", entryCtx["resourcesAffected"])
		}
		if entryCtx["duration"] != 125 {
			t.Errorf("duration changed: %v", entryCtx["duration"])
		}
		if ws := entryCtx["workspace"].(string); strings.Contains(ws, "jsmith") {
			t.Errorf("workspace path survived: %q", ws)
		}
		if server := entryCtx["proxmoxServer"].(string); server == "192.168.1.50" {
			t.Error("server address survived")
		}
	})

	t.Run("metadata", func(t *testing.T) {
		if !result.Metadata.IsAnonymized {
			t.Error("complete run flagged partial")
		}
		if result.Metadata.PseudonymsUsed == 0 {
			t.Error("no pseudonyms counted")
		}
	})
}

// TestErrorProcessor tests both the bare error shape and the snapshot shape.
func TestErrorProcessor(t *testing.T) {
	r := newTestRegistry()

	t.Run("bare error", func(t *testing.T) {
		input := map[string]interface{}{
			"name":    "ConnectionError",
			"message": "connect to 192.168.1.50 refused",
			"stack":   "at dial (/home/jsmith/app/net.js:10)",
			"code":    "ECONNREFUSED",
		}
		result, err := r.Process(context.Background(), input, engine.DefaultOptions())
		if err != nil {
			t.Fatalf("Process failed: %v", err)
		}
		out := result.Data.(map[string]interface{})
		if strings.Contains(out["message"].(string), "192.168.1.50") {
			t.Error("IP survived in error message")
		}
		if strings.Contains(out["stack"].(string), "jsmith") {
			t.Error("home path survived in stack")
		}
		if out["code"] != "ECONNREFUSED" {
			t.Errorf("error code changed: %v", out["code"])
		}
	})

	t.Run("snapshot", func(t *testing.T) {
		input := map[string]interface{}{
			"id":        "snap-42",
			"timestamp": "2026-08-20T10:00:00Z",
			"workspace": "/home/jsmith/projects/lab",
			"error": map[string]interface{}{
				"message": "node pve-node-01 unreachable",
				"name":    "NodeError",
			},
			"logs": []interface{}{logEntry("ping 192.168.1.50 failed")},
			"systemInfo": map[string]interface{}{
				"version":     "1.4.0",
				"totalMemory": 34359738368,
				"hostname":    "workstation.lan.local",
			},
			"workspaceInfo": map[string]interface{}{
				"path":    "/home/jsmith/projects/lab",
				"vmCount": 12,
				"config":  "host=pve1.datacenter.local",
			},
		}

		result, err := r.Process(context.Background(), input, engine.DefaultOptions())
		if err != nil {
			t.Fatalf("Process failed: %v", err)
		}
		out := result.Data.(map[string]interface{})

		if out["id"] != "snap-42" || out["timestamp"] != "2026-08-20T10:00:00Z" {
			t.Error("snapshot identity fields changed")
		}
		if strings.Contains(out["workspace"].(string), "jsmith") {
			t.Error("workspace path survived")
		}

		errObj := out["error"].(map[string]interface{})
		if strings.Contains(errObj["message"].(string), "pve-node-01") {
			t.Error("hostname survived in snapshot error")
		}
		if errObj["name"] != "NodeError" {
			t.Errorf("error name changed: %v", errObj["name"])
		}

		info := out["systemInfo"].(map[string]interface{})
		if info["version"] != "1.4.0" {
			t.Errorf("version changed: %v", info["version"])
		}
		if info["totalMemory"] != 34359738368 {
			t.Errorf("memory changed: %v", info["totalMemory"])
		}
		if info["hostname"] == "workstation.lan.local" {
			t.Error("system hostname survived")
		}

		wsInfo := out["workspaceInfo"].(map[string]interface{})
		if wsInfo["vmCount"] != 12 {
			t.Errorf("vmCount changed: %v", wsInfo["vmCount"])
		}
		if strings.Contains(wsInfo["path"].(string), "jsmith") {
			t.Error("workspaceInfo path survived")
		}

		logs := out["logs"].([]interface{})
		entry := logs[0].(map[string]interface{})
		if strings.Contains(entry["message"].(string), "192.168.1.50") {
			t.Error("IP survived in snapshot logs")
		}
	})
}

// TestConfigProcessor tests sensitive-key redaction precedence.
func TestConfigProcessor(t *testing.T) {
	r := newTestRegistry()

	input := map[string]interface{}{
		"server": map[string]interface{}{
			"host":     "pve1.datacenter.local",
			"port":     8006,
			"password": "supersecret",
			"apiToken": "PVEAPIToken=root@pam!mon",
		},
		"database": map[string]interface{}{
			"connectionString": "postgres://dbuser@192.168.1.60/mpc",
		},
	}

	t.Run("pseudonyms enabled", func(t *testing.T) {
		result, err := r.Process(context.Background(), input, engine.DefaultOptions())
		if err != nil {
			t.Fatalf("Process failed: %v", err)
		}
		out := result.Data.(map[string]interface{})
		server := out["server"].(map[string]interface{})

		if server["password"] != engine.RedactionMarker {
			t.Errorf("password rendered as %v, want marker", server["password"])
		}
		if server["apiToken"] != engine.RedactionMarker {
			t.Errorf("apiToken rendered as %v, want marker", server["apiToken"])
		}
		if server["port"] != 8006 {
			t.Errorf("port changed: %v", server["port"])
		}
		if server["host"] == "pve1.datacenter.local" {
			t.Error("host survived")
		}

		db := out["database"].(map[string]interface{})
		if strings.Contains(db["connectionString"].(string), "192.168.1.60") {
			t.Error("DB address survived")
		}
	})

	t.Run("sensitive keys redacted even with pseudonyms disabled", func(t *testing.T) {
		opts := engine.DefaultOptions()
		opts.EnablePseudonyms = false
		result, err := r.Process(context.Background(), input, opts)
		if err != nil {
			t.Fatalf("Process failed: %v", err)
		}
		out := result.Data.(map[string]interface{})
		server := out["server"].(map[string]interface{})
		if server["password"] != engine.RedactionMarker {
			t.Errorf("password rendered as %v with pseudonyms off", server["password"])
		}
	})
}

// TestIsSensitiveKey tests the shared hard-redaction probe.
func TestIsSensitiveKey(t *testing.T) {
	sensitive := []string{"password", "Password", "api_key", "apiKeyValue", "sshPrivateKey", "tlsCert", "passphrase"}
	for _, key := range sensitive {
		if !IsSensitiveKey(key) {
			t.Errorf("%q not flagged sensitive", key)
		}
	}
	benign := []string{"hostname", "port", "vmCount", "level"}
	for _, key := range benign {
		if IsSensitiveKey(key) {
			t.Errorf("%q flagged sensitive", key)
		}
	}
}

// TestDatabaseProcessor tests field targeting and numeric restoration.
func TestDatabaseProcessor(t *testing.T) {
	r := newTestRegistry()

	input := map[string]interface{}{
		"nodes": []interface{}{
			map[string]interface{}{
				"hostname": "pve-node-01",
				"ip":       "192.168.1.10",
				"cores":    16,
				"status":   "online",
				"password": "secret",
			},
		},
	}

	result, err := r.Process(context.Background(), input, engine.DefaultOptions())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	out := result.Data.(map[string]interface{})
	rows := out["nodes"].([]interface{})
	row := rows[0].(map[string]interface{})

	if row["hostname"] == "pve-node-01" {
		t.Error("hostname survived")
	}
	if row["ip"] == "192.168.1.10" {
		t.Error("ip survived")
	}
	if row["cores"] != 16 {
		t.Errorf("non-PII field changed: %v", row["cores"])
	}
	if row["status"] != "online" {
		t.Errorf("non-PII field changed: %v", row["status"])
	}
	if row["password"] != engine.RedactionMarker {
		t.Errorf("sensitive field rendered as %v", row["password"])
	}
}

// TestCanProcessRejections tests that probes do not over-claim.
func TestCanProcessRejections(t *testing.T) {
	r := newTestRegistry()

	rejected := []interface{}{
		nil,
		"a string",
		42,
		[]interface{}{},
		[]interface{}{"not a log entry"},
		map[string]interface{}{},
		map[string]interface{}{"random": []interface{}{"scalar"}},
	}
	for _, data := range rejected {
		if p, ok := r.For(data); ok {
			t.Errorf("%v claimed by %s", data, p.Type())
		}
	}
}
