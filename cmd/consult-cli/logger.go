package main

import (
	"io"
	"os"
	"time"

	"github.com/gavinwade12/consult/internal/syncutil"
	"github.com/gavinwade12/consult/protocols/consult"
	"github.com/gavinwade12/consult/protocols/romulator"
	"github.com/gavinwade12/consult/protocols/wbo2"
	"github.com/gavinwade12/consult/serialport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

var logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
	With().Timestamp().Logger()

func initLogging() {
	logger = newLogger(logWriter(), verbose, quiet)
	if syncutil.DeadlockDetection {
		logger.Debug().Msg("lock deadlock detection enabled")
	}
}

func logWriter() io.Writer {
	if logFile == "" {
		return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}
	return &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    1,
		MaxBackups: 2,
	}
}

func newLogger(w io.Writer, verbose, quiet bool) zerolog.Logger {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	level := zerolog.InfoLevel
	switch {
	case quiet:
		level = zerolog.Disabled
	case verbose:
		level = zerolog.DebugLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// engineLogger adapts a zerolog.Logger to the engines' debug logger.
type engineLogger struct {
	l zerolog.Logger
}

func (e engineLogger) Debug(message string) {
	e.l.Debug().Msg(message)
}

func (e engineLogger) Debugf(message string, args ...interface{}) {
	e.l.Debug().Msgf(message, args...)
}

func deviceLogger(device string) serialport.Logger {
	if !verbose {
		return serialport.NopLogger
	}
	return engineLogger{logger.With().Str("device", device).Logger()}
}

// exitCode picks the result code of whichever engine err came from.
func exitCode(err error) int {
	if c := consult.CodeOf(err); c > consult.CodeOK {
		return int(c)
	}
	if c := romulator.CodeOf(err); c > romulator.CodeOK {
		return int(c)
	}
	if c := wbo2.CodeOf(err); c > wbo2.CodeOK {
		return int(c)
	}
	return 1
}

// errStr is the fixed description of err's result code.
func errStr(err error) string {
	if c := consult.CodeOf(err); c > consult.CodeOK {
		return consult.ErrStr(c)
	}
	if c := romulator.CodeOf(err); c > romulator.CodeOK {
		return romulator.ErrStr(c)
	}
	if c := wbo2.CodeOf(err); c > wbo2.CodeOK {
		return wbo2.ErrStr(c)
	}
	return err.Error()
}

// checkOK logs a failed err and carries on. It reports whether err was nil.
func checkOK(err error, msg string) bool {
	if err == nil {
		return true
	}
	logger.Error().Stack().Err(err).Str("code", errStr(err)).Msg(msg)
	return false
}

var exit = os.Exit

// assertOK logs a failed err and exits with its result code.
func assertOK(err error, msg string) {
	if checkOK(err, msg) {
		return
	}
	exit(exitCode(err))
}
