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

// Package log writes the CLI's diagnostic messages.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Logger writes normal messages to the output stream, and errors and debug
// messages to the error stream. Debug messages are dropped unless debug mode
// is on.
type Logger struct {
	mu    sync.Mutex
	out   io.Writer
	err   io.Writer
	debug bool
}

// New returns a logger writing to os.Stdout and os.Stderr.
func New() *Logger {
	return &Logger{
		out: os.Stdout,
		err: os.Stderr,
	}
}

// SetOut sets the destination for normal output.
func (l *Logger) SetOut(w io.Writer) {
	l.mu.Lock()
	l.out = w
	l.mu.Unlock()
}

// SetErr sets the destination for error and debug output.
func (l *Logger) SetErr(w io.Writer) {
	l.mu.Lock()
	l.err = w
	l.mu.Unlock()
}

// SetDebug turns debug mode on or off.
func (l *Logger) SetDebug(debug bool) {
	l.mu.Lock()
	l.debug = debug
	l.mu.Unlock()
}

func (l *Logger) line(toErr bool, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w := l.out
	if toErr {
		w = l.err
	}
	_, _ = fmt.Fprintln(w, strings.TrimSpace(msg))
}

func (l *Logger) debugOn() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.debug
}

// Debugf logs a formatted debug message.
func (l *Logger) Debugf(format string, args ...any) {
	if l.debugOn() {
		l.line(true, fmt.Sprintf(format, args...))
	}
}

// Infof logs a formatted message to the output stream.
func (l *Logger) Infof(format string, args ...any) {
	l.line(false, fmt.Sprintf(format, args...))
}

// Errorf logs a formatted error message.
func (l *Logger) Errorf(format string, args ...any) {
	l.line(true, fmt.Sprintf(format, args...))
}

type debugWriter struct{ l *Logger }

func (w debugWriter) Write(p []byte) (int, error) {
	if !w.l.debugOn() {
		return len(p), nil
	}
	l := w.l
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err.Write(p)
}

// Slog returns a structured logger which writes through l's debug stream.
// It is handed to the client library, so request records appear with
// --debug.
func (l *Logger) Slog() *slog.Logger {
	return slog.New(slog.NewTextHandler(debugWriter{l}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
