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

package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

type zlogger struct {
	mu    sync.Mutex
	base  zerolog.Logger
	out   zerolog.Logger
	err   zerolog.Logger
	debug bool
}

var _ Logger = &zlogger{}

// NewZerolog returns a Logger which emits structured JSON records through
// zl. Info records go to the normal output, everything else to the error
// output. Both default to stderr.
func NewZerolog(zl zerolog.Logger) Logger {
	l := &zlogger{base: zl}
	l.out = zl.Output(os.Stderr)
	l.err = zl.Output(os.Stderr)
	return l
}

func (l *zlogger) SetOut(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = l.base.Output(w)
}

func (l *zlogger) SetErr(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.err = l.base.Output(w)
}

func (l *zlogger) SetDebug(debug bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.debug = debug
}

func (l *zlogger) emit(out bool, level zerolog.Level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level == zerolog.DebugLevel && !l.debug {
		return
	}
	zl := l.err
	if out {
		zl = l.out
	}
	zl.WithLevel(level).Msg(strings.TrimSpace(msg))
}

func (l *zlogger) Debug(args ...any) {
	l.emit(false, zerolog.DebugLevel, fmt.Sprint(args...))
}

func (l *zlogger) Debugf(format string, args ...any) {
	l.emit(false, zerolog.DebugLevel, fmt.Sprintf(format, args...))
}

func (l *zlogger) Info(args ...any) {
	l.emit(true, zerolog.InfoLevel, fmt.Sprint(args...))
}

func (l *zlogger) Infof(format string, args ...any) {
	l.emit(true, zerolog.InfoLevel, fmt.Sprintf(format, args...))
}

func (l *zlogger) Warn(args ...any) {
	l.emit(false, zerolog.WarnLevel, fmt.Sprint(args...))
}

func (l *zlogger) Warnf(format string, args ...any) {
	l.emit(false, zerolog.WarnLevel, fmt.Sprintf(format, args...))
}

func (l *zlogger) Error(args ...any) {
	l.emit(false, zerolog.ErrorLevel, fmt.Sprint(args...))
}

func (l *zlogger) Errorf(format string, args ...any) {
	l.emit(false, zerolog.ErrorLevel, fmt.Sprintf(format, args...))
}
