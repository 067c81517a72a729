package serialport

import (
	"fmt"
	"io"
	"log"
	"strings"
)

// Logger receives the debug output of the link and the protocol engines.
type Logger interface {
	Debug(message string)
	Debugf(message string, args ...interface{})
}

type nopLogger struct{}

func (l nopLogger) Debug(message string) {}

func (l nopLogger) Debugf(message string, args ...interface{}) {}

// NopLogger discards everything.
var NopLogger Logger = nopLogger{}

type defaultLogger struct {
	l *log.Logger
}

func (l *defaultLogger) Debug(message string) {
	l.l.Println(message)
}

func (l *defaultLogger) Debugf(message string, args ...interface{}) {
	l.l.Printf(message, args...)
}

// DefaultLogger returns a Logger writing prefixed lines to out.
var DefaultLogger = func(out io.Writer, prefix string) Logger {
	return &defaultLogger{log.New(out, prefix+" ", log.LstdFlags)}
}

// LogBytes logs b as a line of hex bytes after prefix.
func LogBytes(l Logger, b []byte, prefix string) {
	var sb strings.Builder
	sb.WriteString(prefix)
	for _, bb := range b {
		fmt.Fprintf(&sb, "0x%02x ", bb)
	}
	l.Debug(sb.String())
}
