package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/josephrichard7/proxmox-mpc-sub010/internal/pseudonym"
	"github.com/josephrichard7/proxmox-mpc-sub010/internal/rules"
)

// Engine applies the prioritized rule set to arbitrary nested data,
// consulting the shared pseudonym table for replacements. One engine is
// constructed at process start and passed by handle to every consumer, so
// no call site keeps independent rule-application state. All methods are
// safe for concurrent use; each call traverses within the calling
// goroutine with no internal fan-out.
type Engine struct {
	registry   *rules.Registry
	pseudonyms *pseudonym.Manager
	logger     *zap.Logger

	mu            sync.Mutex
	processed     int64
	pseudonymized int64
	errors        int64
	totalDuration time.Duration
	rulesUsage    map[rules.Type]int64
}

// New creates an engine over the built-in rule registry and the given
// mapping table.
func New(manager *pseudonym.Manager, logger *zap.Logger) *Engine {
	registry := rules.NewRegistry()
	logger.Info("Anonymization engine initialized",
		zap.Int("rules", len(registry.All())),
	)
	return &Engine{
		registry:   registry,
		pseudonyms: manager,
		logger:     logger,
		rulesUsage: make(map[rules.Type]int64),
	}
}

// Rules exposes the active registry for inspection endpoints.
func (e *Engine) Rules() *rules.Registry { return e.registry }

// Mappings exposes the shared pseudonym table for export/import surfaces.
func (e *Engine) Mappings() *pseudonym.Manager { return e.pseudonyms }

// Anonymize scans data against the priority-ordered rule set and returns a
// structurally-mirrored result. Strings are scanned and rewritten; maps,
// slices, structs and pointers are walked depth-first with cycle detection;
// other primitives pass through unchanged. The time budget is checked
// opportunistically during traversal: on exhaustion the partial result is
// returned rather than an error.
func (e *Engine) Anonymize(ctx context.Context, data interface{}, opts Options) Result {
	start := time.Now()
	if opts.MaxProcessingTime <= 0 {
		opts.MaxProcessingTime = DefaultOptions().MaxProcessingTime
	}

	p := &pass{
		engine:   e,
		ctx:      ctx,
		opts:     opts,
		deadline: start.Add(opts.MaxProcessingTime),
		seen:     make(map[uintptr]struct{}),
		applied:  make(map[rules.Type]int),
	}

	var out interface{}
	if opts.PreserveStructure {
		out = p.visit(data)
	} else {
		out = p.scanString(p.flatten(data))
	}

	elapsed := time.Since(start)
	e.record(p, elapsed)

	applied := make([]string, 0, len(p.applied))
	for typ := range p.applied {
		applied = append(applied, string(typ))
	}
	sort.Strings(applied)

	if p.truncated {
		e.logger.Warn("Anonymization budget exhausted, returning partial result",
			zap.Duration("budget", opts.MaxProcessingTime),
			zap.Duration("elapsed", elapsed),
		)
	}

	return Result{
		Data: out,
		Metadata: Metadata{
			RulesApplied:       applied,
			PseudonymsUsed:     p.pseudonyms,
			ProcessingTimeMs:   elapsed.Milliseconds(),
			IsAnonymized:       !p.truncated,
			PreservedStructure: opts.PreserveStructure,
		},
	}
}

// record folds a completed pass into the running totals.
func (e *Engine) record(p *pass, elapsed time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.processed++
	e.pseudonymized += int64(p.pseudonyms)
	e.totalDuration += elapsed
	e.errors += int64(p.errs)
	if p.truncated {
		e.errors++
	}
	for typ, count := range p.applied {
		e.rulesUsage[typ] += int64(count)
	}
}

// GetStats returns the running totals. AverageProcessingTime is a running
// mean in milliseconds; ErrorRate is errors per processed call.
func (e *Engine) GetStats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := Stats{
		TotalProcessed:  e.processed,
		TotalPseudonyms: e.pseudonymized,
		RulesUsage:      make(map[rules.Type]int64, len(e.rulesUsage)),
	}
	for typ, count := range e.rulesUsage {
		stats.RulesUsage[typ] = count
	}
	if e.processed > 0 {
		stats.AverageProcessingTime = float64(e.totalDuration.Milliseconds()) / float64(e.processed)
		stats.ErrorRate = float64(e.errors) / float64(e.processed)
	}
	return stats
}

// Reset zeroes the running totals. The mapping table is not touched.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.processed = 0
	e.pseudonymized = 0
	e.errors = 0
	e.totalDuration = 0
	e.rulesUsage = make(map[rules.Type]int64)
}
