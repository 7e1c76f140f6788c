// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//  http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

// Package log provides the logging interface used by couchbulk and its
// command line tool.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Logger is the logging interface.
type Logger interface {
	// SetOut sets the destination for normal output.
	SetOut(io.Writer)
	// SetErr sets the destination for error output.
	SetErr(io.Writer)
	// SetDebug turns debug mode on or off.
	SetDebug(bool)
	// Debug logs debug output.
	Debug(...any)
	// Debugf logs formatted debug output.
	Debugf(string, ...any)
	// Info logs normal priority messages.
	Info(...any)
	// Infof logs formatted normal priority messages.
	Infof(string, ...any)
	// Warn logs conditions which do not abort the operation in progress, such
	// as per-document bulk failures.
	Warn(...any)
	// Warnf logs formatted warnings.
	Warnf(string, ...any)
	// Error logs error messages.
	Error(...any)
	// Errorf logs formatted error messages.
	Errorf(string, ...any)
}

// Level is the severity of a log line.
type Level int

// Log levels, in increasing severity.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// logger writes plain text lines. Info lines go to the normal output, so that
// summaries can be captured with a shell redirect.
type logger struct {
	mu     sync.Mutex
	stdout io.Writer
	stderr io.Writer
	debug  bool
}

var _ Logger = &logger{}

// New returns a logger which writes info messages to stdout, and everything
// else to stderr. Debug messages are dropped until SetDebug(true).
func New() Logger {
	return &logger{
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
}

func (l *logger) SetOut(out io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stdout = out
}

func (l *logger) SetErr(err io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stderr = err
}

func (l *logger) SetDebug(debug bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.debug = debug
}

func (l *logger) write(level Level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w := l.stderr
	switch level {
	case LevelDebug:
		if !l.debug {
			return
		}
	case LevelInfo:
		w = l.stdout
	}
	_, _ = fmt.Fprintln(w, strings.TrimSpace(msg))
}

func (l *logger) Debug(args ...any)            { l.write(LevelDebug, fmt.Sprint(args...)) }
func (l *logger) Debugf(f string, args ...any) { l.write(LevelDebug, fmt.Sprintf(f, args...)) }
func (l *logger) Info(args ...any)             { l.write(LevelInfo, fmt.Sprint(args...)) }
func (l *logger) Infof(f string, args ...any)  { l.write(LevelInfo, fmt.Sprintf(f, args...)) }
func (l *logger) Warn(args ...any)             { l.write(LevelWarn, fmt.Sprint(args...)) }
func (l *logger) Warnf(f string, args ...any)  { l.write(LevelWarn, fmt.Sprintf(f, args...)) }
func (l *logger) Error(args ...any)            { l.write(LevelError, fmt.Sprint(args...)) }
func (l *logger) Errorf(f string, args ...any) { l.write(LevelError, fmt.Sprintf(f, args...)) }
