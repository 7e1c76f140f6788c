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
	"strings"
	"sync"
	"testing"

	"gitlab.com/flimzy/testy"
)

// TestLogger records log lines for later inspection in tests.
type TestLogger struct {
	mu   sync.Mutex
	logs []string
}

var _ Logger = &TestLogger{}

// NewTest returns a new TestLogger.
func NewTest() *TestLogger {
	return &TestLogger{
		logs: []string{},
	}
}

func (l *TestLogger) log(level Level, line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logs = append(l.logs, fmt.Sprintf("[%s] %s", level, strings.TrimSpace(line)))
}

func (*TestLogger) SetOut(io.Writer) {}
func (*TestLogger) SetErr(io.Writer) {}
func (*TestLogger) SetDebug(bool)    {}

func (l *TestLogger) Debug(args ...any)            { l.log(LevelDebug, fmt.Sprint(args...)) }
func (l *TestLogger) Debugf(f string, args ...any) { l.log(LevelDebug, fmt.Sprintf(f, args...)) }
func (l *TestLogger) Info(args ...any)             { l.log(LevelInfo, fmt.Sprint(args...)) }
func (l *TestLogger) Infof(f string, args ...any)  { l.log(LevelInfo, fmt.Sprintf(f, args...)) }
func (l *TestLogger) Warn(args ...any)             { l.log(LevelWarn, fmt.Sprint(args...)) }
func (l *TestLogger) Warnf(f string, args ...any)  { l.log(LevelWarn, fmt.Sprintf(f, args...)) }
func (l *TestLogger) Error(args ...any)            { l.log(LevelError, fmt.Sprint(args...)) }
func (l *TestLogger) Errorf(f string, args ...any) { l.log(LevelError, fmt.Sprintf(f, args...)) }

// Logs returns a copy of the lines logged so far.
func (l *TestLogger) Logs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string{}, l.logs...)
}

// Check compares the logged lines, excluding debug output, against want.
func (l *TestLogger) Check(t *testing.T, want ...string) {
	t.Helper()
	got := []string{}
	for _, line := range l.Logs() {
		if !strings.HasPrefix(line, "["+LevelDebug.String()+"]") {
			got = append(got, line)
		}
	}
	if want == nil {
		want = []string{}
	}
	if d := testy.DiffInterface(want, got); d != nil {
		t.Errorf("Unexpected logs:\n%s", d)
	}
}
