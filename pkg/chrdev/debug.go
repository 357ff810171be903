/*
 * Copyright 2025 SREDiag Authors
 * Copyright 2023 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package chrdev

import (
	"io"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type logger struct {
	name string
}

var (
	internalLogger = &logger{name: ""}
	moduleLogger   = &logger{name: "module"}

	level  atomic.Int32
	output atomic.Pointer[zerolog.Logger]

	// numeric levels accepted from GLOBALMEM_LOG_LEVEL, lowest first
	numericLevels = []zerolog.Level{
		zerolog.TraceLevel,
		zerolog.DebugLevel,
		zerolog.InfoLevel,
		zerolog.WarnLevel,
		zerolog.ErrorLevel,
		zerolog.Disabled,
	}
)

func init() {
	level.Store(int32(zerolog.WarnLevel))
	if v := os.Getenv("GLOBALMEM_LOG_LEVEL"); v != "" {
		if lvl, err := parseLogLevel(v); err == nil {
			level.Store(int32(lvl))
		}
	}
	SetLogOutput(os.Stderr)
}

func parseLogLevel(s string) (zerolog.Level, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 || n >= len(numericLevels) {
			return zerolog.NoLevel, errors.Errorf("log level %d out of range", n)
		}
		return numericLevels[n], nil
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil {
		return zerolog.NoLevel, errors.Wrapf(err, "parse log level %q", s)
	}
	if lvl == zerolog.NoLevel {
		return zerolog.NoLevel, errors.Errorf("empty log level %q", s)
	}
	return lvl, nil
}

// SetLogLevel changes the internal logger's level. The default level is warn.
// The process env `GLOBALMEM_LOG_LEVEL` also sets it, as a name or as 0 (trace) to 5 (off).
func SetLogLevel(s string) error {
	lvl, err := parseLogLevel(s)
	if err != nil {
		return err
	}
	level.Store(int32(lvl))
	return nil
}

// SetLogOutput redirects the internal logger. A nil writer discards output.
func SetLogOutput(w io.Writer) {
	if w == nil {
		w = io.Discard
	}
	zl := zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.DateTime, NoColor: w != os.Stderr}).
		With().
		Timestamp().
		Logger()
	output.Store(&zl)
}

func (l *logger) event(lvl zerolog.Level) *zerolog.Event {
	if lvl < zerolog.Level(level.Load()) {
		return nil
	}
	e := output.Load().WithLevel(lvl)
	if l.name != "" {
		e = e.Str("component", l.name)
	}
	return e
}

func (l *logger) errorf(format string, a ...interface{}) {
	l.event(zerolog.ErrorLevel).Msgf(format, a...)
}

func (l *logger) warnf(format string, a ...interface{}) {
	l.event(zerolog.WarnLevel).Msgf(format, a...)
}

func (l *logger) infof(format string, a ...interface{}) {
	l.event(zerolog.InfoLevel).Msgf(format, a...)
}

func (l *logger) debugf(format string, a ...interface{}) {
	l.event(zerolog.DebugLevel).Msgf(format, a...)
}
