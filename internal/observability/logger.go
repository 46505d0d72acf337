package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog for structured logging across the compiler pipeline.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new structured logger.
func NewLogger(service, version string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(output).With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Str("host", getHostname()).
		Logger()

	return &Logger{
		logger: logger,
	}
}

// WithBuild adds build_id context to logger, for correlating log lines with
// a specific compile cache entry.
func (l *Logger) WithBuild(buildID string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("build_id", buildID).Logger(),
	}
}

// WithCollective adds collective_name context to logger.
func (l *Logger) WithCollective(name string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("collective", name).Logger(),
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

// Info logs an info message.
func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

// Error logs an error message.
func (l *Logger) Error(err error, msg string) {
	l.logger.Error().Err(err).Msg(msg)
}

// Fatal logs a fatal message and exits.
func (l *Logger) Fatal(err error, msg string) {
	l.logger.Fatal().Err(err).Msg(msg)
}

// CompileStarted logs the start of a compile run.
func (l *Logger) CompileStarted(runID, collective string, numRanks int) {
	l.logger.Info().
		Str("run_id", runID).
		Str("collective", collective).
		Int("num_ranks", numRanks).
		Msg("compile started")
}

// LoweringCompleted logs chunk-DAG-to-rank-DAG lowering completion.
func (l *Logger) LoweringCompleted(runID string, chunkOps, rankOps int, elapsed time.Duration) {
	l.logger.Debug().
		Str("run_id", runID).
		Int("chunk_ops", chunkOps).
		Int("rank_ops", rankOps).
		Float64("elapsed_seconds", elapsed.Seconds()).
		Msg("lowered chunk dag to rank dag")
}

// FusionPassCompleted logs the result of one peephole fusion sweep.
func (l *Logger) FusionPassCompleted(runID, pass string, rewrites int) {
	l.logger.Debug().
		Str("run_id", runID).
		Str("pass", pass).
		Int("rewrites", rewrites).
		Msg("fusion pass completed")
}

// ThreadblockAssignmentCompleted logs threadblock assignment results.
func (l *Logger) ThreadblockAssignmentCompleted(runID string, rank, numThreadblocks int, mode string) {
	l.logger.Debug().
		Str("run_id", runID).
		Int("rank", rank).
		Int("num_threadblocks", numThreadblocks).
		Str("mode", mode).
		Msg("threadblock assignment completed")
}

// ValidationFailed logs a fatal validation error.
func (l *Logger) ValidationFailed(runID string, err error) {
	l.logger.Error().
		Str("run_id", runID).
		Err(err).
		Msg("validation failed")
}

// CompileCompleted logs overall compile success.
func (l *Logger) CompileCompleted(runID string, buildID string, duration time.Duration, oracleOK bool) {
	l.logger.Info().
		Str("run_id", runID).
		Str("build_id", buildID).
		Float64("duration_seconds", duration.Seconds()).
		Bool("oracle_ok", oracleOK).
		Msg("compile completed")
}

// CacheHit logs a compile cache hit.
func (l *Logger) CacheHit(buildID string) {
	l.logger.Info().
		Str("build_id", buildID).
		Msg("compile cache hit")
}

// CacheMiss logs a compile cache miss.
func (l *Logger) CacheMiss(buildID string) {
	l.logger.Debug().
		Str("build_id", buildID).
		Msg("compile cache miss")
}

// Helper function to get hostname.
func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
