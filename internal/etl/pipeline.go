package etl

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/josephrichard7/proxmox-mpc-sub010/internal/engine"
	"github.com/josephrichard7/proxmox-mpc-sub010/internal/processors"
)

// Pipeline batch-anonymizes exported files: diagnostic snapshots, log
// dumps, and database exports. Every record goes through the processor
// registry, the anonymized records are written back in the input format,
// and a parquet audit trail records what was changed without recording
// the data itself.
type Pipeline struct {
	registry *processors.Registry
	engine   *engine.Engine
	config   *Config
	opts     engine.Options
	logger   *zap.Logger

	mu    sync.RWMutex
	stats *ProcessingStats
}

// NewPipeline creates a batch anonymization pipeline.
func NewPipeline(registry *processors.Registry, eng *engine.Engine, config *Config, opts engine.Options, logger *zap.Logger) *Pipeline {
	if config == nil {
		config = DefaultConfig()
	}
	return &Pipeline{
		registry: registry,
		engine:   eng,
		config:   config,
		opts:     opts,
		logger:   logger,
		stats: &ProcessingStats{
			StartTime: time.Now(),
		},
	}
}

// processedRecord pairs an anonymized record with its audit row. Order
// within a batch is preserved by index.
type processedRecord struct {
	index int64
	data  interface{}
	audit AuditRecord
	err   error
}

// ProcessFile anonymizes inputPath into outputPath. When auditPath is
// non-empty and audit writing is enabled, a parquet audit trail is written
// alongside.
func (p *Pipeline) ProcessFile(ctx context.Context, inputPath, outputPath, auditPath string) (*ProcessingResult, error) {
	p.logger.Info("Starting anonymization pipeline",
		zap.String("input", inputPath),
		zap.String("output", outputPath),
		zap.Int("batch_size", p.config.BatchSize),
		zap.Int("workers", p.config.WorkerCount))

	start := time.Now()
	result := &ProcessingResult{}
	p.resetStats()

	format := DetectFileFormat(inputPath)
	p.logger.Info("Detected input format", zap.String("format", string(format)))

	in, err := os.Open(inputPath)
	if err != nil {
		return result, fmt.Errorf("failed to open input file: %w", err)
	}
	defer in.Close()

	out, err := os.Create(outputPath)
	if err != nil {
		return result, fmt.Errorf("failed to create output file: %w", err)
	}
	defer out.Close()

	var audit *parquet.Writer
	if p.config.WriteAudit && auditPath != "" {
		auditFile, err := os.Create(auditPath)
		if err != nil {
			return result, fmt.Errorf("failed to create audit file: %w", err)
		}
		defer auditFile.Close()
		audit = parquet.NewWriter(auditFile, parquet.SchemaOf(AuditRecord{}))
	}

	readBatch, err := p.batchReader(format, in)
	if err != nil {
		return result, err
	}
	writer, finish, err := p.batchWriter(format, out)
	if err != nil {
		return result, err
	}

	if err := p.processBatches(ctx, readBatch, writer, audit, result); err != nil {
		return result, err
	}
	if err := finish(); err != nil {
		return result, fmt.Errorf("failed to finalize output: %w", err)
	}
	if audit != nil {
		if err := audit.Close(); err != nil {
			return result, fmt.Errorf("failed to finalize audit trail: %w", err)
		}
	}

	result.Duration = time.Since(start)

	p.logger.Info("Anonymization pipeline completed",
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("processed_ok", result.ProcessedOK),
		zap.Int64("processed_failed", result.ProcessedFailed),
		zap.Int64("partial", result.Partial),
		zap.Duration("total_duration", result.Duration),
		zap.Duration("anonymize_time", result.AnonymizeTime))

	return result, nil
}

// batchReader returns a closure producing up to BatchSize records per call.
// An empty batch signals end of input.
func (p *Pipeline) batchReader(format FileFormat, in io.Reader) (func() ([]interface{}, error), error) {
	switch format {
	case FormatJSON:
		decoder := json.NewDecoder(in)
		// Consume the opening bracket of the record array.
		tok, err := decoder.Token()
		if err != nil {
			return nil, fmt.Errorf("failed to read JSON input: %w", err)
		}
		if delim, ok := tok.(json.Delim); !ok || delim != '[' {
			return nil, fmt.Errorf("JSON input must be an array of records, got %v", tok)
		}
		return func() ([]interface{}, error) {
			var batch []interface{}
			for len(batch) < p.config.BatchSize && decoder.More() {
				var record interface{}
				if err := decoder.Decode(&record); err != nil {
					return batch, fmt.Errorf("failed to decode JSON record: %w", err)
				}
				batch = append(batch, record)
			}
			return batch, nil
		}, nil

	case FormatJSONL:
		decoder := json.NewDecoder(in)
		return func() ([]interface{}, error) {
			var batch []interface{}
			for len(batch) < p.config.BatchSize {
				var record interface{}
				err := decoder.Decode(&record)
				if err == io.EOF {
					break
				}
				if err != nil {
					return batch, fmt.Errorf("failed to decode JSONL record: %w", err)
				}
				batch = append(batch, record)
			}
			return batch, nil
		}, nil

	default:
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		return func() ([]interface{}, error) {
			var batch []interface{}
			for len(batch) < p.config.BatchSize && scanner.Scan() {
				batch = append(batch, scanner.Text())
			}
			if err := scanner.Err(); err != nil {
				return batch, fmt.Errorf("failed to read log input: %w", err)
			}
			return batch, nil
		}, nil
	}
}

// batchWriter returns a per-record writer and a finish function that seals
// the output in the input's format.
func (p *Pipeline) batchWriter(format FileFormat, out io.Writer) (func(interface{}) error, func() error, error) {
	switch format {
	case FormatJSON:
		buffered := bufio.NewWriter(out)
		encoder := json.NewEncoder(buffered)
		first := true
		if _, err := buffered.WriteString("[\n"); err != nil {
			return nil, nil, err
		}
		write := func(record interface{}) error {
			if !first {
				if _, err := buffered.WriteString(",\n"); err != nil {
					return err
				}
			}
			first = false
			return encoder.Encode(record)
		}
		finish := func() error {
			if _, err := buffered.WriteString("]\n"); err != nil {
				return err
			}
			return buffered.Flush()
		}
		return write, finish, nil

	case FormatJSONL:
		buffered := bufio.NewWriter(out)
		encoder := json.NewEncoder(buffered)
		return encoder.Encode, buffered.Flush, nil

	default:
		buffered := bufio.NewWriter(out)
		write := func(record interface{}) error {
			line, ok := record.(string)
			if !ok {
				encoded, err := json.Marshal(record)
				if err != nil {
					return err
				}
				line = string(encoded)
			}
			_, err := buffered.WriteString(line + "\n")
			return err
		}
		return write, buffered.Flush, nil
	}
}

// processBatches reads, anonymizes, and writes until the input is drained.
func (p *Pipeline) processBatches(ctx context.Context, readBatch func() ([]interface{}, error), write func(interface{}) error, audit *parquet.Writer, result *ProcessingResult) error {
	var index int64

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batch, err := readBatch()
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			p.logger.Warn("Batch read error, continuing with partial batch", zap.Error(err))
		}
		if len(batch) == 0 {
			break
		}

		p.addRead(int64(len(batch)))

		anonymizeStart := time.Now()
		processed := p.processBatch(ctx, batch, index)
		result.AnonymizeTime += time.Since(anonymizeStart)
		index += int64(len(batch))

		for _, rec := range processed {
			result.TotalRecords++
			if rec.err != nil {
				result.ProcessedFailed++
				result.Errors = append(result.Errors, rec.err.Error())
				continue
			}
			if !rec.audit.Complete {
				result.Partial++
			}
			if err := write(rec.data); err != nil {
				return fmt.Errorf("failed to write record %d: %w", rec.index, err)
			}
			result.ProcessedOK++
			p.addWritten(1)

			if audit != nil {
				if err := audit.Write(&rec.audit); err != nil {
					p.logger.Warn("Failed to write audit record",
						zap.Int64("record_index", rec.index),
						zap.Error(err))
				}
			}
		}

		if p.config.ProgressReport > 0 && result.TotalRecords%int64(p.config.ProgressReport) == 0 {
			p.reportProgress(result)
		}
	}

	return nil
}

// processBatch fans a batch out to the worker pool. Output order matches
// input order.
func (p *Pipeline) processBatch(ctx context.Context, batch []interface{}, baseIndex int64) []processedRecord {
	processed := make([]processedRecord, len(batch))

	workers := p.config.WorkerCount
	if workers < 1 {
		workers = 1
	}
	if workers > len(batch) {
		workers = len(batch)
	}

	jobs := make(chan int, len(batch))
	for i := range batch {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				processed[i] = p.processRecord(ctx, batch[i], baseIndex+int64(i))
			}
		}()
	}
	wg.Wait()

	return processed
}

func (p *Pipeline) processRecord(ctx context.Context, record interface{}, index int64) processedRecord {
	recordCtx := ctx
	if p.config.RecordTimeout > 0 {
		var cancel context.CancelFunc
		recordCtx, cancel = context.WithTimeout(ctx, p.config.RecordTimeout)
		defer cancel()
	}

	processorName := "engine"
	var res engine.Result
	if proc, ok := p.registry.For(record); ok {
		processorName = proc.Type()
		var err error
		res, err = proc.Process(recordCtx, record, p.opts)
		if err != nil {
			return processedRecord{index: index, err: fmt.Errorf("record %d: %w", index, err)}
		}
	} else {
		res = p.engine.Anonymize(recordCtx, record, p.opts)
	}

	return processedRecord{
		index: index,
		data:  res.Data,
		audit: AuditRecord{
			RecordIndex:    index,
			Processor:      processorName,
			RulesApplied:   strings.Join(res.Metadata.RulesApplied, ","),
			PseudonymsUsed: int64(res.Metadata.PseudonymsUsed),
			ProcessingMs:   res.Metadata.ProcessingTimeMs,
			Complete:       res.Metadata.IsAnonymized,
			ProcessedAt:    time.Now().Unix(),
		},
	}
}

func (p *Pipeline) addRead(n int64) {
	p.mu.Lock()
	p.stats.RecordsRead += n
	p.stats.CurrentBatch++
	p.mu.Unlock()
}

func (p *Pipeline) addWritten(n int64) {
	p.mu.Lock()
	p.stats.RecordsWritten += n
	p.mu.Unlock()
}

// reportProgress reports current processing progress.
func (p *Pipeline) reportProgress(result *ProcessingResult) {
	elapsed := time.Since(p.stats.StartTime)
	rate := float64(result.TotalRecords) / elapsed.Seconds()

	p.logger.Info("Processing progress",
		zap.Int64("records_processed", result.TotalRecords),
		zap.Int64("records_ok", result.ProcessedOK),
		zap.Int64("records_failed", result.ProcessedFailed),
		zap.Float64("rate_per_sec", rate),
		zap.Duration("elapsed", elapsed))
}

// resetStats resets processing statistics.
func (p *Pipeline) resetStats() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats = &ProcessingStats{
		StartTime: time.Now(),
	}
}

// GetStats returns a copy of the current processing statistics.
func (p *Pipeline) GetStats() *ProcessingStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := *p.stats
	if elapsed := time.Since(stats.StartTime).Seconds(); elapsed > 0 {
		stats.ProcessingRate = float64(stats.RecordsRead) / elapsed
	}
	return &stats
}
