package llamaglue

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"llamaglue/cpu"
	"llamaglue/internal/logging"
)

// DefaultPieceBufferSize is the size of the first TokenToPiece attempt.
const DefaultPieceBufferSize = 8

// Config holds the configuration for a Runtime
type Config struct {
	Logger *slog.Logger
	// Diagnostics receives the grammar dump after every successful load
	// and the parser's message after a failed one.
	Diagnostics     io.Writer
	PieceBufferSize int
	// Features overrides host detection when set.
	Features *cpu.Features
	// AcceleratorLib is an onnxruntime shared library probed for the BLAS flag.
	AcceleratorLib string
	Registerer     prometheus.Registerer
}

// ConfigOption is a functional option for Config
type ConfigOption func(*Config)

// NewConfig creates a new Config with default values
func NewConfig(opts ...ConfigOption) *Config {
	c := &Config{
		Logger:          logging.Discard(),
		Diagnostics:     os.Stderr,
		PieceBufferSize: DefaultPieceBufferSize,
	}

	for _, opt := range opts {
		opt(c)
	}

	if err := c.validate(); err != nil {
		panic(err)
	}

	return c
}

// validate checks if the configuration is valid
func (c *Config) validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger must not be nil")
	}

	if c.Diagnostics == nil {
		return fmt.Errorf("diagnostics writer must not be nil")
	}

	if c.PieceBufferSize < 1 {
		return fmt.Errorf("piece_buffer_size must be >= 1")
	}

	return nil
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) ConfigOption {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithDiagnostics sets the writer that receives grammar dumps
func WithDiagnostics(w io.Writer) ConfigOption {
	return func(c *Config) {
		c.Diagnostics = w
	}
}

// WithPieceBufferSize sets the size of the first decoding attempt
func WithPieceBufferSize(n int) ConfigOption {
	return func(c *Config) {
		c.PieceBufferSize = n
	}
}

// WithFeatures fixes the reported CPU features
func WithFeatures(f cpu.Features) ConfigOption {
	return func(c *Config) {
		c.Features = &f
	}
}

// WithAccelerator sets the onnxruntime library probed for BLAS support
func WithAccelerator(libPath string) ConfigOption {
	return func(c *Config) {
		c.AcceleratorLib = libPath
	}
}

// WithMetrics sets the registerer metrics are registered on
func WithMetrics(reg prometheus.Registerer) ConfigOption {
	return func(c *Config) {
		c.Registerer = reg
	}
}
