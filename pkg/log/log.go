// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package log is a small leveled logger over the standard library logger.
// Output goes to stderr by default so that data written to stdout stays
// machine readable.
package log

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

// Level is a log verbosity level. Higher levels are more verbose.
type Level int

const (
	ErrorLevel Level = iota
	WarningLevel
	InfoLevel
	DebugLevel
)

// LogPrefix starts every line
const LogPrefix = "[bitastat] "

// Per-level line prefixes
const (
	ErrorPrefix   = "[error] "
	WarningPrefix = "[warn] "
	InfoPrefix    = "[info] "
	DebugPrefix   = "[debug] "
)

// levels is indexed by Level
var levels = [...]struct {
	name   string
	prefix string
}{
	ErrorLevel:   {"error", ErrorPrefix},
	WarningLevel: {"warning", WarningPrefix},
	InfoLevel:    {"info", InfoPrefix},
	DebugLevel:   {"debug", DebugPrefix},
}

// String returns the level name
func (l Level) String() string {
	if l < 0 || int(l) >= len(levels) {
		return fmt.Sprintf("Level(%d)", int(l))
	}
	return levels[l].name
}

// ParseLevel converts a level name to a Level. "warn" is accepted for
// warning.
func ParseLevel(name string) (Level, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "warn" {
		return WarningLevel, nil
	}
	names := make([]string, len(levels))
	for i, l := range levels {
		if l.name == name {
			return Level(i), nil
		}
		names[i] = l.name
	}
	return InfoLevel, fmt.Errorf("invalid log level %q: must be one of %s", name, strings.Join(names, ", "))
}

var (
	level = InfoLevel
	std   = log.New(os.Stderr, LogPrefix, log.LstdFlags)
)

// Init redirects output and sets the level by name
func Init(out io.Writer, name string) error {
	std.SetOutput(out)
	return SetLevel(name)
}

// SetLevel sets the global level by name
func SetLevel(name string) error {
	l, err := ParseLevel(name)
	if err != nil {
		return err
	}
	SetLevelValue(l)
	return nil
}

// SetLevelValue sets the global level. TUI commands use it to keep
// warnings off the alternate screen.
func SetLevelValue(l Level) {
	level = l
}

// GetLevel returns the global level
func GetLevel() Level {
	return level
}

// Enabled reports whether messages at l are written
func Enabled(l Level) bool {
	return level >= l
}

func output(l Level, format string, v ...interface{}) {
	if !Enabled(l) {
		return
	}
	std.Println(levels[l].prefix + fmt.Sprintf(format, v...))
}

// Error logs conditions that end the current command, such as a lost
// connection or an unwritable recording
func Error(format string, v ...interface{}) {
	output(ErrorLevel, format, v...)
}

// Warning logs stream anomalies: checksum failures, missed samples and
// buffer saturation
func Warning(format string, v ...interface{}) {
	output(WarningLevel, format, v...)
}

// Info logs connection and session lifecycle events
func Info(format string, v ...interface{}) {
	output(InfoLevel, format, v...)
}

// Debug logs per-cycle detail
func Debug(format string, v ...interface{}) {
	output(DebugLevel, format, v...)
}
