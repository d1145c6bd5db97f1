package processors

import (
	"context"

	"go.uber.org/zap"

	"github.com/josephrichard7/proxmox-mpc-sub010/internal/engine"
)

// LogProcessor anonymizes arrays of structured operation log entries.
// Entries carry timestamp, correlationId, operation, phase, level, message
// and a context object. Identifying fields are rewritten; resourcesAffected
// counts and durations pass through verbatim so timings stay analyzable.
type LogProcessor struct {
	engine *engine.Engine
	logger *zap.Logger
}

// NewLogProcessor creates a log entry processor.
func NewLogProcessor(e *engine.Engine, logger *zap.Logger) *LogProcessor {
	return &LogProcessor{engine: e, logger: logger}
}

// Type implements Processor.
func (p *LogProcessor) Type() string { return "log" }

// CanProcess accepts non-empty arrays whose first element looks like a
// structured log entry.
func (p *LogProcessor) CanProcess(data interface{}) bool {
	entries, ok := data.([]interface{})
	if !ok || len(entries) == 0 {
		return false
	}
	entry, ok := asEntryMap(entries[0])
	if !ok {
		return false
	}
	_, hasTimestamp := entry["timestamp"]
	_, hasMessage := entry["message"]
	_, hasLevel := entry["level"]
	return hasTimestamp && hasMessage && hasLevel
}

// Process anonymizes every entry, delegating scalar work to the engine.
func (p *LogProcessor) Process(ctx context.Context, data interface{}, opts engine.Options) (engine.Result, error) {
	entries, ok := data.([]interface{})
	if !ok {
		return engine.Result{}, errUnexpectedShape(p.Type())
	}

	acc := newMetaAccumulator()
	out := make([]interface{}, len(entries))
	for i, raw := range entries {
		entry, ok := asEntryMap(raw)
		if !ok {
			out[i] = acc.scalar(ctx, p.engine, raw, opts)
			continue
		}
		out[i] = anonymizeLogEntry(ctx, p.engine, acc, entry, opts)
	}

	return engine.Result{Data: out, Metadata: acc.metadata(opts.PreserveStructure)}, nil
}

// anonymizeLogEntry rewrites one structured log entry. Shared with the
// error processor, whose snapshots embed the same entry shape.
func anonymizeLogEntry(ctx context.Context, e *engine.Engine, acc *metaAccumulator, entry map[string]interface{}, opts engine.Options) map[string]interface{} {
	out := make(map[string]interface{}, len(entry))
	for key, value := range entry {
		switch key {
		case "timestamp", "correlationId", "operation", "phase", "level":
			out[key] = value
		case "message":
			out[key] = acc.scalar(ctx, e, value, opts)
		case "context":
			if contextMap, ok := asEntryMap(value); ok {
				out[key] = anonymizeLogContext(ctx, e, acc, contextMap, opts)
			} else {
				out[key] = acc.scalar(ctx, e, value, opts)
			}
		case "error":
			if errMap, ok := asEntryMap(value); ok {
				out[key] = anonymizeErrorObject(ctx, e, acc, errMap, opts)
			} else {
				out[key] = acc.scalar(ctx, e, value, opts)
			}
		case "metadata":
			out[key] = acc.scalar(ctx, e, value, opts)
		default:
			out[key] = acc.scalar(ctx, e, value, opts)
		}
	}
	return out
}

// anonymizeLogContext rewrites the context object of a log entry. Every
// string-valued context field is identifying (workspace, proxmoxServer,
// userId, sessionId, ...); resourcesAffected and duration stay verbatim.
func anonymizeLogContext(ctx context.Context, e *engine.Engine, acc *metaAccumulator, contextMap map[string]interface{}, opts engine.Options) map[string]interface{} {
	out := make(map[string]interface{}, len(contextMap))
	for key, value := range contextMap {
		switch key {
		case "resourcesAffected", "duration":
			out[key] = value
		default:
			if s, ok := value.(string); ok {
				out[key] = acc.scalar(ctx, e, s, opts)
			} else {
				out[key] = acc.scalar(ctx, e, value, opts)
			}
		}
	}
	return out
}

// anonymizeErrorObject rewrites an embedded error value, targeting the
// message and stack trace.
func anonymizeErrorObject(ctx context.Context, e *engine.Engine, acc *metaAccumulator, errMap map[string]interface{}, opts engine.Options) map[string]interface{} {
	out := make(map[string]interface{}, len(errMap))
	for key, value := range errMap {
		switch key {
		case "message", "stack":
			out[key] = acc.scalar(ctx, e, value, opts)
		default:
			out[key] = value
		}
	}
	return out
}
