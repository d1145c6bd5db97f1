package processors

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/josephrichard7/proxmox-mpc-sub010/internal/engine"
)

// Processor adds shape-specific field targeting on top of the engine.
// CanProcess is a cheap structural probe and must never panic; Process
// delegates all scalar redaction to the engine.
type Processor interface {
	CanProcess(data interface{}) bool
	Process(ctx context.Context, data interface{}, opts engine.Options) (engine.Result, error)
	Type() string
}

// Registry is the closed dispatch table over the known data shapes.
// Probe order matters: more specific shapes come first so a diagnostic
// snapshot is not mistaken for a table map.
type Registry struct {
	processors []Processor
	engine     *engine.Engine
	logger     *zap.Logger
}

// NewRegistry builds the dispatch table over all built-in processors.
func NewRegistry(e *engine.Engine, logger *zap.Logger) *Registry {
	return &Registry{
		processors: []Processor{
			NewLogProcessor(e, logger),
			NewErrorProcessor(e, logger),
			NewConfigProcessor(e, logger),
			NewDatabaseProcessor(e, logger),
		},
		engine: e,
		logger: logger,
	}
}

// For returns the first processor whose probe accepts the data.
func (r *Registry) For(data interface{}) (Processor, bool) {
	for _, p := range r.processors {
		if p.CanProcess(data) {
			return p, true
		}
	}
	return nil, false
}

// All returns the registered processors in probe order.
func (r *Registry) All() []Processor {
	out := make([]Processor, len(r.processors))
	copy(out, r.processors)
	return out
}

// Process dispatches to the matching processor, falling back to the plain
// engine for unrecognized shapes.
func (r *Registry) Process(ctx context.Context, data interface{}, opts engine.Options) (engine.Result, error) {
	if p, ok := r.For(data); ok {
		r.logger.Debug("Dispatching to processor", zap.String("processor", p.Type()))
		return p.Process(ctx, data, opts)
	}
	return r.engine.Anonymize(ctx, data, opts), nil
}

// metaAccumulator merges metadata from the per-field engine calls a
// processor makes during one Process invocation.
type metaAccumulator struct {
	start      time.Time
	applied    map[string]struct{}
	pseudonyms int
	complete   bool
}

func newMetaAccumulator() *metaAccumulator {
	return &metaAccumulator{
		start:    time.Now(),
		applied:  make(map[string]struct{}),
		complete: true,
	}
}

func (a *metaAccumulator) fold(md engine.Metadata) {
	for _, rule := range md.RulesApplied {
		a.applied[rule] = struct{}{}
	}
	a.pseudonyms += md.PseudonymsUsed
	if !md.IsAnonymized {
		a.complete = false
	}
}

func (a *metaAccumulator) metadata(preserved bool) engine.Metadata {
	applied := make([]string, 0, len(a.applied))
	for rule := range a.applied {
		applied = append(applied, rule)
	}
	sort.Strings(applied)
	return engine.Metadata{
		RulesApplied:       applied,
		PseudonymsUsed:     a.pseudonyms,
		ProcessingTimeMs:   time.Since(a.start).Milliseconds(),
		IsAnonymized:       a.complete,
		PreservedStructure: preserved,
	}
}

// scalar runs one value through the engine and folds its metadata.
func (a *metaAccumulator) scalar(ctx context.Context, e *engine.Engine, v interface{}, opts engine.Options) interface{} {
	result := e.Anonymize(ctx, v, opts)
	a.fold(result.Metadata)
	return result.Data
}

// asEntryMap returns data as a string-keyed map when it is one.
func asEntryMap(data interface{}) (map[string]interface{}, bool) {
	m, ok := data.(map[string]interface{})
	return m, ok
}

func errUnexpectedShape(processor string) error {
	return fmt.Errorf("processors: %s processor received data it cannot process", processor)
}
