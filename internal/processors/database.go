package processors

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/josephrichard7/proxmox-mpc-sub010/internal/engine"
)

// piiFieldKeywords identify record fields that carry identifying values.
var piiFieldKeywords = []string{
	"hostname", "host", "ip", "address", "email", "user", "owner",
	"path", "mac", "uuid", "id", "name", "domain", "fqdn",
}

// DatabaseProcessor anonymizes a mapping of table name to an array (or a
// single object) of records. Only fields whose name matches the PII keyword
// list are rewritten; when a non-string PII field is anonymized the original
// primitive type is restored best-effort if the result is still numeric.
type DatabaseProcessor struct {
	engine *engine.Engine
	logger *zap.Logger
}

// NewDatabaseProcessor creates a database record processor.
func NewDatabaseProcessor(e *engine.Engine, logger *zap.Logger) *DatabaseProcessor {
	return &DatabaseProcessor{engine: e, logger: logger}
}

// Type implements Processor.
func (p *DatabaseProcessor) Type() string { return "database" }

// CanProcess accepts non-empty maps whose values are all record arrays or
// record objects.
func (p *DatabaseProcessor) CanProcess(data interface{}) bool {
	tables, ok := asEntryMap(data)
	if !ok || len(tables) == 0 {
		return false
	}
	for _, records := range tables {
		switch v := records.(type) {
		case []interface{}:
			for _, record := range v {
				if _, ok := asEntryMap(record); !ok {
					return false
				}
			}
		case map[string]interface{}:
		default:
			return false
		}
	}
	return true
}

// Process rewrites PII fields in every record of every table.
func (p *DatabaseProcessor) Process(ctx context.Context, data interface{}, opts engine.Options) (engine.Result, error) {
	tables, ok := asEntryMap(data)
	if !ok {
		return engine.Result{}, errUnexpectedShape(p.Type())
	}

	acc := newMetaAccumulator()
	out := make(map[string]interface{}, len(tables))
	for table, records := range tables {
		switch v := records.(type) {
		case []interface{}:
			rows := make([]interface{}, len(v))
			for i, record := range v {
				if row, ok := asEntryMap(record); ok {
					rows[i] = p.anonymizeRecord(ctx, acc, row, opts)
				} else {
					rows[i] = record
				}
			}
			out[table] = rows
		case map[string]interface{}:
			out[table] = p.anonymizeRecord(ctx, acc, v, opts)
		default:
			out[table] = records
		}
	}

	return engine.Result{Data: out, Metadata: acc.metadata(opts.PreserveStructure)}, nil
}

func (p *DatabaseProcessor) anonymizeRecord(ctx context.Context, acc *metaAccumulator, record map[string]interface{}, opts engine.Options) map[string]interface{} {
	out := make(map[string]interface{}, len(record))
	for field, value := range record {
		if IsSensitiveKey(field) {
			out[field] = engine.RedactionMarker
			continue
		}
		if !isPIIField(field) {
			out[field] = value
			continue
		}
		switch v := value.(type) {
		case string:
			out[field] = acc.scalar(ctx, p.engine, v, opts)
		case float64:
			out[field] = restoreNumeric(acc.scalar(ctx, p.engine, strconv.FormatFloat(v, 'f', -1, 64), opts))
		case int:
			out[field] = restoreNumeric(acc.scalar(ctx, p.engine, strconv.Itoa(v), opts))
		case int64:
			out[field] = restoreNumeric(acc.scalar(ctx, p.engine, strconv.FormatInt(v, 10), opts))
		default:
			out[field] = acc.scalar(ctx, p.engine, fmt.Sprintf("%v", v), opts)
		}
	}
	return out
}

// restoreNumeric converts an anonymized value back to a number when the
// replacement happens to still be numeric; otherwise the string stands.
func restoreNumeric(v interface{}) interface{} {
	s, ok := v.(string)
	if !ok {
		return v
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n
	}
	return s
}

func isPIIField(field string) bool {
	lower := strings.ToLower(field)
	for _, keyword := range piiFieldKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}
