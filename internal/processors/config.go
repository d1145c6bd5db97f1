package processors

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/josephrichard7/proxmox-mpc-sub010/internal/engine"
)

// configKeywords identify config-shaped objects by their top-level keys.
var configKeywords = []string{
	"server", "servers", "database", "api", "auth", "connection",
	"proxmox", "credentials", "network", "storage", "cluster", "ssl", "tls",
}

// sensitiveKeys always force redaction of the value, regardless of the
// EnablePseudonyms option. Matching is case-insensitive substring.
var sensitiveKeys = []string{
	"password", "passwd", "secret", "token", "apikey", "api_key",
	"privatekey", "private_key", "cert", "credential", "passphrase",
}

// ConfigProcessor anonymizes configuration-shaped objects. Keys on the
// sensitive list are hard-redacted; other string values get generic
// anonymization; non-string scalars pass through.
type ConfigProcessor struct {
	engine *engine.Engine
	logger *zap.Logger
}

// NewConfigProcessor creates a configuration processor.
func NewConfigProcessor(e *engine.Engine, logger *zap.Logger) *ConfigProcessor {
	return &ConfigProcessor{engine: e, logger: logger}
}

// Type implements Processor.
func (p *ConfigProcessor) Type() string { return "config" }

// CanProcess accepts maps whose keys include a configuration keyword.
func (p *ConfigProcessor) CanProcess(data interface{}) bool {
	m, ok := asEntryMap(data)
	if !ok || len(m) == 0 {
		return false
	}
	for key := range m {
		if isConfigKeyword(key) {
			return true
		}
	}
	return false
}

// Process walks the object depth-first applying the sensitive-key rule
// before any pattern scanning.
func (p *ConfigProcessor) Process(ctx context.Context, data interface{}, opts engine.Options) (engine.Result, error) {
	m, ok := asEntryMap(data)
	if !ok {
		return engine.Result{}, errUnexpectedShape(p.Type())
	}

	acc := newMetaAccumulator()
	out := p.walk(ctx, acc, m, opts)
	return engine.Result{Data: out, Metadata: acc.metadata(opts.PreserveStructure)}, nil
}

func (p *ConfigProcessor) walk(ctx context.Context, acc *metaAccumulator, m map[string]interface{}, opts engine.Options) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for key, value := range m {
		if IsSensitiveKey(key) {
			out[key] = engine.RedactionMarker
			continue
		}
		switch v := value.(type) {
		case string:
			out[key] = acc.scalar(ctx, p.engine, v, opts)
		case map[string]interface{}:
			out[key] = p.walk(ctx, acc, v, opts)
		case []interface{}:
			items := make([]interface{}, len(v))
			for i, item := range v {
				if nested, ok := asEntryMap(item); ok {
					items[i] = p.walk(ctx, acc, nested, opts)
				} else if s, ok := item.(string); ok {
					items[i] = acc.scalar(ctx, p.engine, s, opts)
				} else {
					items[i] = item
				}
			}
			out[key] = items
		default:
			out[key] = value
		}
	}
	return out
}

// IsSensitiveKey reports whether a field name belongs to the hard-redaction
// list. Exposed for the database processor and tests.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, sensitive := range sensitiveKeys {
		if strings.Contains(lower, sensitive) {
			return true
		}
	}
	return false
}

func isConfigKeyword(key string) bool {
	lower := strings.ToLower(key)
	for _, keyword := range configKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}
