// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// HTTPConfig holds shared HTTP settings for clients of external services.
type HTTPConfig struct {
	// Timeout bounds a single request, including a streamed response body.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// UserAgent is the User-Agent header sent with requests.
	UserAgent string `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`
}

// PoolConfig holds upload acceptance limits for the literature pool and
// the paradigm exemplar set.
type PoolConfig struct {
	// MaxFileBytes rejects larger uploads as too_large (default 200 MiB).
	MaxFileBytes int64 `json:"max_file_bytes" yaml:"max_file_bytes" mapstructure:"max_file_bytes"`

	// AllowedFormats lists accepted extensions without the dot.
	AllowedFormats []Format `json:"allowed_formats" yaml:"allowed_formats" mapstructure:"allowed_formats"`

	// MaxFiles caps the number of items in the pool (default 100).
	MaxFiles int `json:"max_files" yaml:"max_files" mapstructure:"max_files"`
}

// ModelOptions are the sampling options passed to the language model.
type ModelOptions struct {
	NumCtx        int     `json:"num_ctx" yaml:"num_ctx" mapstructure:"num_ctx"`
	NumBatch      int     `json:"num_batch" yaml:"num_batch" mapstructure:"num_batch"`
	Temperature   float64 `json:"temperature" yaml:"temperature" mapstructure:"temperature"`
	TopP          float64 `json:"top_p" yaml:"top_p" mapstructure:"top_p"`
	RepeatPenalty float64 `json:"repeat_penalty" yaml:"repeat_penalty" mapstructure:"repeat_penalty"`
}

// MemoryPreset tunes context and batch size for a model size class.
type MemoryPreset struct {
	NumCtx   int `json:"num_ctx" yaml:"num_ctx" mapstructure:"num_ctx"`
	NumBatch int `json:"num_batch" yaml:"num_batch" mapstructure:"num_batch"`
}

// LLMConfig holds settings for the local language model server.
type LLMConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// BaseURL is the model server root (default http://localhost:11434).
	BaseURL string `json:"base_url" yaml:"base_url" mapstructure:"base_url"`

	// Model is selected at startup when set.
	Model string `json:"model" yaml:"model" mapstructure:"model"`

	// MaxRetries bounds retries on 429 and 503 responses (default 3).
	MaxRetries int `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`

	Options ModelOptions `json:"options" yaml:"options" mapstructure:"options"`

	// Presets maps a size class (14B, 7B, 1.5B) to memory settings.
	Presets map[string]MemoryPreset `json:"presets" yaml:"presets" mapstructure:"presets"`
}

// PDFBackend selects how PDF text is obtained for extraction.
type PDFBackend string

const (
	PDFMarkitdown PDFBackend = "markitdown"
	PDFPdftotext  PDFBackend = "pdftotext"
)

// ExtractionConfig holds the retry and concurrency policy for metadata
// extraction.
type ExtractionConfig struct {
	// Timeout bounds one extraction attempt (default 60s).
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// MaxRetries is the number of retries after the first attempt (default 3).
	MaxRetries int `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`

	// RetryBackoff is the delay before the first retry; it doubles for each
	// later retry. Zero means one second.
	RetryBackoff time.Duration `json:"retry_backoff" yaml:"retry_backoff" mapstructure:"retry_backoff"`

	// Concurrency bounds parallel extractions (default 2).
	Concurrency int `json:"concurrency" yaml:"concurrency" mapstructure:"concurrency"`

	// RatePerSecond paces calls to the extractor; zero disables pacing.
	RatePerSecond float64 `json:"rate_per_second" yaml:"rate_per_second" mapstructure:"rate_per_second"`

	// UseLLM asks the language model for metadata instead of heuristics.
	UseLLM bool `json:"use_llm" yaml:"use_llm" mapstructure:"use_llm"`

	// MaxCharsPerFile truncates decoded text before extraction (default 50000).
	MaxCharsPerFile int `json:"max_chars_per_file" yaml:"max_chars_per_file" mapstructure:"max_chars_per_file"`

	PDFBackend PDFBackend `json:"pdf_backend" yaml:"pdf_backend" mapstructure:"pdf_backend"`
}

// GenerationConfig holds settings for the staged generation pipeline.
type GenerationConfig struct {
	// Timeout bounds one generation job; zero means the LLM HTTP timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	MinTopicLen int `json:"min_topic_len" yaml:"min_topic_len" mapstructure:"min_topic_len"`
	MaxTopicLen int `json:"max_topic_len" yaml:"max_topic_len" mapstructure:"max_topic_len"`

	// CitationFormat is the default reference style.
	CitationFormat CitationFormat `json:"citation_format" yaml:"citation_format" mapstructure:"citation_format"`

	// MaxContextChars caps the literature context placed in prompts
	// (default 150000).
	MaxContextChars int `json:"max_context_chars" yaml:"max_context_chars" mapstructure:"max_context_chars"`

	// MaxExemplarChars truncates each decoded exemplar before the paradigm
	// prompt (default 20000).
	MaxExemplarChars int `json:"max_exemplar_chars" yaml:"max_exemplar_chars" mapstructure:"max_exemplar_chars"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address         string        `json:"address" yaml:"address" mapstructure:"address"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout" mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// StoreConfig locates the job journal database.
type StoreConfig struct {
	Path string `json:"path" yaml:"path" mapstructure:"path"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	// Level is one of trace, debug, info, warn, error.
	Level string `json:"level" yaml:"level" mapstructure:"level"`

	// Format is json or console.
	Format string `json:"format" yaml:"format" mapstructure:"format"`

	// Output is stdout or stderr.
	Output string `json:"output" yaml:"output" mapstructure:"output"`
}

// ExportConfig holds settings for review export.
type ExportConfig struct {
	OutputDir string `json:"output_dir" yaml:"output_dir" mapstructure:"output_dir"`

	// Dense renumbers citations to 1..N in the exported copy.
	Dense bool `json:"dense" yaml:"dense" mapstructure:"dense"`
}

// Config groups all settings for the review engine.
type Config struct {
	Pool       PoolConfig       `json:"pool" yaml:"pool" mapstructure:"pool"`
	LLM        LLMConfig        `json:"llm" yaml:"llm" mapstructure:"llm"`
	Extraction ExtractionConfig `json:"extraction" yaml:"extraction" mapstructure:"extraction"`
	Generation GenerationConfig `json:"generation" yaml:"generation" mapstructure:"generation"`
	Server     ServerConfig     `json:"server" yaml:"server" mapstructure:"server"`
	Store      StoreConfig      `json:"store" yaml:"store" mapstructure:"store"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging" mapstructure:"logging"`
	Export     ExportConfig     `json:"export" yaml:"export" mapstructure:"export"`
}

// DefaultConfig returns the settings used when no config file is present.
func DefaultConfig() Config {
	return Config{
		Pool: PoolConfig{
			MaxFileBytes:   200 << 20,
			AllowedFormats: []Format{FormatPDF, FormatTXT},
			MaxFiles:       100,
		},
		LLM: LLMConfig{
			HTTPConfig: HTTPConfig{
				Timeout:   300 * time.Second,
				UserAgent: "review-engine/0.1",
			},
			BaseURL:    "http://localhost:11434",
			MaxRetries: 3,
			Options: ModelOptions{
				NumCtx:        4096,
				NumBatch:      256,
				Temperature:   0.7,
				TopP:          0.9,
				RepeatPenalty: 1.1,
			},
			Presets: map[string]MemoryPreset{
				"14B":  {NumCtx: 4096, NumBatch: 256},
				"7B":   {NumCtx: 8192, NumBatch: 512},
				"1.5B": {NumCtx: 16384, NumBatch: 1024},
			},
		},
		Extraction: ExtractionConfig{
			Timeout:         60 * time.Second,
			MaxRetries:      3,
			RetryBackoff:    time.Second,
			Concurrency:     2,
			MaxCharsPerFile: 50000,
			PDFBackend:      PDFPdftotext,
		},
		Generation: GenerationConfig{
			MinTopicLen:      5,
			MaxTopicLen:      200,
			CitationFormat:   FormatGB,
			MaxContextChars:  150000,
			MaxExemplarChars: 20000,
		},
		Server: ServerConfig{
			Address:         "127.0.0.1:5000",
			ReadTimeout:     30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Store:   StoreConfig{Path: "review-engine.db"},
		Logging: LoggingConfig{Level: "info", Format: "console", Output: "stderr"},
		Export:  ExportConfig{OutputDir: "outputs"},
	}
}
