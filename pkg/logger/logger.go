// Package logger builds the zerolog console logger used by tilesplit and a
// helper that logs a call's arguments and outcome.
package logger

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

// New returns a console logger that writes debug, info and warn records to out
// and error records to errOut.
func New(out, errOut io.Writer, verbose bool) zerolog.Logger {
	writer := zerolog.MultiLevelWriter(
		SpecificLevelWriter{
			Writer: zerolog.ConsoleWriter{
				Out:        out,
				TimeFormat: time.RFC3339,
			},
			Levels: []zerolog.Level{
				zerolog.DebugLevel, zerolog.InfoLevel, zerolog.WarnLevel,
			},
		},
		SpecificLevelWriter{
			Writer: zerolog.ConsoleWriter{
				Out:        errOut,
				TimeFormat: time.RFC3339,
			},
			Levels: []zerolog.Level{
				zerolog.ErrorLevel, zerolog.FatalLevel, zerolog.PanicLevel,
			},
		},
	)

	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}

// Call logs the arguments of the named operation, runs fn, and logs its result
// or error. It is applied explicitly at call sites that want an audit line for
// their inputs and outputs.
func Call[T any](log zerolog.Logger, name string, args map[string]interface{}, fn func() (T, error)) (T, error) {
	log.Info().Str("call", name).Fields(args).Msg("arguments")

	start := time.Now()
	result, err := fn()
	if err != nil {
		log.Error().Str("call", name).Dur("elapsed", time.Since(start)).Err(err).Msg("failed")
		return result, err
	}

	log.Info().Str("call", name).Dur("elapsed", time.Since(start)).Interface("result", result).Msg("result")
	return result, nil
}

// SpecificLevelWriter forwards only records whose level is listed in Levels.
type SpecificLevelWriter struct {
	io.Writer
	Levels []zerolog.Level
}

func (w SpecificLevelWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	for _, l := range w.Levels {
		if l == level {
			return w.Write(p)
		}
	}
	return len(p), nil
}
