// Package logging provides the structured logger shared by the compiler,
// runtime, and store packages, plus the engine's typed error taxonomy.
package logging

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
)

// Logger is the package-level logger used by every fraudrules package that
// doesn't have its own logger injected. Configure it once at process start
// via ConfigureLogger; the zero-value default (info level, stderr) is fine
// for tests and short-lived tools.
var Logger zerolog.Logger

func init() {
	logLevel := zerolog.InfoLevel
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if envLevel := os.Getenv("FRAUDRULES_LOG_LEVEL"); envLevel != "" {
		if level, err := zerolog.ParseLevel(envLevel); err == nil {
			logLevel = level
		}
	}

	zerolog.SetGlobalLevel(logLevel)
	Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// ConfigureLogger routes the package logger to a console or file sink at
// the given level. Hosts call this once during startup after loading
// configuration; it is not safe to call concurrently with logging calls.
func ConfigureLogger(logLevel, logOutput string) error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(level)

	switch logOutput {
	case "console":
		Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().Timestamp().Logger()
	case "file":
		file, ferr := os.OpenFile("fraudruled.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if ferr != nil {
			return ferr
		}
		Logger = zerolog.New(file).With().Timestamp().Logger()
	case "", "stderr":
		Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	default:
		log.Fatal().Str("output", logOutput).Msg("invalid log output option")
	}
	return nil
}
