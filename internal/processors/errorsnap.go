package processors

import (
	"context"

	"go.uber.org/zap"

	"github.com/josephrichard7/proxmox-mpc-sub010/internal/engine"
)

// ErrorProcessor anonymizes error objects and full diagnostic snapshots
// before they leave the local environment (the "report issue" path).
// Snapshot identity, timestamps and systemInfo version/memory figures stay
// verbatim so a report remains diagnosable.
type ErrorProcessor struct {
	engine *engine.Engine
	logger *zap.Logger
}

// NewErrorProcessor creates an error/diagnostic snapshot processor.
func NewErrorProcessor(e *engine.Engine, logger *zap.Logger) *ErrorProcessor {
	return &ErrorProcessor{engine: e, logger: logger}
}

// Type implements Processor.
func (p *ErrorProcessor) Type() string { return "error" }

// CanProcess accepts Error-like objects (message plus stack or name) and
// diagnostic snapshots (id, timestamp, logs).
func (p *ErrorProcessor) CanProcess(data interface{}) bool {
	m, ok := asEntryMap(data)
	if !ok {
		return false
	}
	if _, hasMessage := m["message"]; hasMessage {
		_, hasStack := m["stack"]
		_, hasName := m["name"]
		if hasStack || hasName {
			return true
		}
	}
	return isSnapshot(m)
}

func isSnapshot(m map[string]interface{}) bool {
	_, hasID := m["id"]
	_, hasTimestamp := m["timestamp"]
	_, hasLogs := m["logs"]
	return hasID && hasTimestamp && hasLogs
}

// Process dispatches between the bare-error and snapshot shapes.
func (p *ErrorProcessor) Process(ctx context.Context, data interface{}, opts engine.Options) (engine.Result, error) {
	m, ok := asEntryMap(data)
	if !ok {
		return engine.Result{}, errUnexpectedShape(p.Type())
	}

	acc := newMetaAccumulator()
	var out map[string]interface{}
	if isSnapshot(m) {
		out = p.anonymizeSnapshot(ctx, acc, m, opts)
	} else {
		out = anonymizeErrorObject(ctx, p.engine, acc, m, opts)
	}
	return engine.Result{Data: out, Metadata: acc.metadata(opts.PreserveStructure)}, nil
}

func (p *ErrorProcessor) anonymizeSnapshot(ctx context.Context, acc *metaAccumulator, snapshot map[string]interface{}, opts engine.Options) map[string]interface{} {
	out := make(map[string]interface{}, len(snapshot))
	for key, value := range snapshot {
		switch key {
		case "id", "timestamp":
			out[key] = value
		case "workspace":
			out[key] = acc.scalar(ctx, p.engine, value, opts)
		case "error":
			if errMap, ok := asEntryMap(value); ok {
				out[key] = anonymizeErrorObject(ctx, p.engine, acc, errMap, opts)
			} else {
				out[key] = acc.scalar(ctx, p.engine, value, opts)
			}
		case "logs":
			out[key] = p.anonymizeLogs(ctx, acc, value, opts)
		case "systemInfo":
			if info, ok := asEntryMap(value); ok {
				out[key] = p.anonymizeSystemInfo(ctx, acc, info, opts)
			} else {
				out[key] = value
			}
		case "workspaceInfo":
			if info, ok := asEntryMap(value); ok {
				out[key] = p.anonymizeWorkspaceInfo(ctx, acc, info, opts)
			} else {
				out[key] = acc.scalar(ctx, p.engine, value, opts)
			}
		default:
			// metrics, healthStatus and anything else goes through the
			// engine so embedded hostnames or addresses are still caught.
			out[key] = acc.scalar(ctx, p.engine, value, opts)
		}
	}
	return out
}

func (p *ErrorProcessor) anonymizeLogs(ctx context.Context, acc *metaAccumulator, value interface{}, opts engine.Options) interface{} {
	entries, ok := value.([]interface{})
	if !ok {
		return acc.scalar(ctx, p.engine, value, opts)
	}
	out := make([]interface{}, len(entries))
	for i, raw := range entries {
		if entry, ok := asEntryMap(raw); ok {
			out[i] = anonymizeLogEntry(ctx, p.engine, acc, entry, opts)
		} else {
			out[i] = acc.scalar(ctx, p.engine, raw, opts)
		}
	}
	return out
}

// anonymizeSystemInfo preserves version and memory figures and rewrites the
// identifying remainder (hostname, platform details).
func (p *ErrorProcessor) anonymizeSystemInfo(ctx context.Context, acc *metaAccumulator, info map[string]interface{}, opts engine.Options) map[string]interface{} {
	out := make(map[string]interface{}, len(info))
	for key, value := range info {
		switch key {
		case "version", "nodeVersion", "memory", "freeMemory", "totalMemory", "uptime", "cpus":
			out[key] = value
		default:
			out[key] = acc.scalar(ctx, p.engine, value, opts)
		}
	}
	return out
}

func (p *ErrorProcessor) anonymizeWorkspaceInfo(ctx context.Context, acc *metaAccumulator, info map[string]interface{}, opts engine.Options) map[string]interface{} {
	out := make(map[string]interface{}, len(info))
	for key, value := range info {
		switch key {
		case "path", "config":
			out[key] = acc.scalar(ctx, p.engine, value, opts)
		default:
			out[key] = value
		}
	}
	return out
}
