package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog for structured logging.
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

// WithOperation adds operation_id context to logger.
func (l *Logger) WithOperation(operationID string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("operation_id", operationID).Logger(),
	}
}

// WithServer adds server_id context to logger.
func (l *Logger) WithServer(serverID string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("server_id", serverID).Logger(),
	}
}

// WithFile adds file context to logger.
func (l *Logger) WithFile(remoteName string, fileSize int64) *Logger {
	return &Logger{
		logger: l.logger.With().
			Str("remote_name", remoteName).
			Int64("file_size", fileSize).
			Logger(),
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

// OperationStarted logs the start of an upload/download/verify/repair
// operation.
func (l *Logger) OperationStarted(operationID, verb, remoteName string, totalChunks int) {
	l.logger.Info().
		Str("operation_id", operationID).
		Str("verb", verb).
		Str("remote_name", remoteName).
		Int("total_chunks", totalChunks).
		Msg("operation started")
}

// ChunkPlaced logs one successful chunk replica placement.
func (l *Logger) ChunkPlaced(operationID string, sequence int, chunkSize int, serverID string) {
	l.logger.Debug().
		Str("operation_id", operationID).
		Int("sequence", sequence).
		Int("chunk_size", chunkSize).
		Str("server_id", serverID).
		Msg("chunk replica placed")
}

// OperationProgress logs operation progress.
func (l *Logger) OperationProgress(operationID string, chunksDone, totalChunks int, bytesDone, bytesTotal int64, elapsed time.Duration) {
	progress := 0.0
	if totalChunks > 0 {
		progress = float64(chunksDone) / float64(totalChunks) * 100.0
	}

	l.logger.Info().
		Str("operation_id", operationID).
		Int("chunks_done", chunksDone).
		Int("total_chunks", totalChunks).
		Float64("progress_percent", progress).
		Int64("bytes_done", bytesDone).
		Int64("bytes_total", bytesTotal).
		Float64("elapsed_seconds", elapsed.Seconds()).
		Msg("operation progress")
}

// OperationCompleted logs operation completion.
func (l *Logger) OperationCompleted(operationID, verb string, totalChunks int, duration time.Duration, integrityVerified bool) {
	l.logger.Info().
		Str("operation_id", operationID).
		Str("verb", verb).
		Int("total_chunks", totalChunks).
		Float64("duration_seconds", duration.Seconds()).
		Bool("integrity_verified", integrityVerified).
		Msg("operation completed successfully")
}

// ChunkIntegrityFailed logs a chunk integrity mismatch.
func (l *Logger) ChunkIntegrityFailed(operationID string, sequence int, serverID string, retryCount int) {
	l.logger.Error().
		Str("operation_id", operationID).
		Int("sequence", sequence).
		Str("server_id", serverID).
		Int("retry_count", retryCount).
		Msg("chunk integrity check failed")
}

// ServerUnreachable logs a failed server contact attempt.
func (l *Logger) ServerUnreachable(serverID string, err error) {
	l.logger.Warn().
		Str("server_id", serverID).
		Err(err).
		Msg("server unreachable")
}

// Helper function to get hostname.
func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
