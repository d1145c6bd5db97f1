package etl

import (
	"strings"
	"time"
)

// AuditRecord is one row of the parquet audit trail. It carries anonymization
// metadata only, never payload content, so the trail itself is safe to share.
type AuditRecord struct {
	RecordIndex    int64  `parquet:"record_index" json:"record_index"`
	Processor      string `parquet:"processor" json:"processor"`
	RulesApplied   string `parquet:"rules_applied" json:"rules_applied"`
	PseudonymsUsed int64  `parquet:"pseudonyms_used" json:"pseudonyms_used"`
	ProcessingMs   int64  `parquet:"processing_ms" json:"processing_ms"`
	Complete       bool   `parquet:"complete" json:"complete"`
	ProcessedAt    int64  `parquet:"processed_at" json:"processed_at"`
}

// ProcessingResult summarizes a pipeline run.
type ProcessingResult struct {
	TotalRecords    int64         `json:"total_records"`
	ProcessedOK     int64         `json:"processed_ok"`
	ProcessedFailed int64         `json:"processed_failed"`
	Partial         int64         `json:"partial"`
	Duration        time.Duration `json:"duration"`
	AnonymizeTime   time.Duration `json:"anonymize_time"`
	Errors          []string      `json:"errors,omitempty"`
}

// Config contains ETL pipeline configuration.
type Config struct {
	BatchSize      int           `yaml:"batch_size" mapstructure:"batch_size"`           // 500
	WorkerCount    int           `yaml:"worker_count" mapstructure:"worker_count"`       // 4
	ProgressReport int           `yaml:"progress_report" mapstructure:"progress_report"` // 1000
	RecordTimeout  time.Duration `yaml:"record_timeout" mapstructure:"record_timeout"`   // 5s
	WriteAudit     bool          `yaml:"write_audit" mapstructure:"write_audit"`         // true
}

// DefaultConfig returns pipeline defaults suitable for log exports.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      500,
		WorkerCount:    4,
		ProgressReport: 1000,
		RecordTimeout:  5 * time.Second,
		WriteAudit:     true,
	}
}

// ProcessingStats tracks real-time processing statistics.
type ProcessingStats struct {
	StartTime      time.Time `json:"start_time"`
	RecordsRead    int64     `json:"records_read"`
	RecordsWritten int64     `json:"records_written"`
	CurrentBatch   int64     `json:"current_batch"`
	ProcessingRate float64   `json:"processing_rate"` // records per second
}

// FileFormat represents supported input formats.
type FileFormat string

const (
	FormatJSON  FileFormat = "json"  // single JSON array of records
	FormatJSONL FileFormat = "jsonl" // one JSON object per line
	FormatLog   FileFormat = "log"   // plain text, one record per line
)

// DetectFileFormat detects file format from extension.
func DetectFileFormat(filename string) FileFormat {
	switch {
	case strings.HasSuffix(filename, ".jsonl") || strings.HasSuffix(filename, ".ndjson"):
		return FormatJSONL
	case strings.HasSuffix(filename, ".json"):
		return FormatJSON
	default:
		return FormatLog
	}
}
