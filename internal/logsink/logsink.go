// Package logsink carries human-readable status lines from the peripheral to
// whatever displays them. Every Sink is safe for concurrent use.
package logsink

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// Sink accepts status lines.
type Sink interface {
	OnLog(line string)
}

// Func adapts a function to a Sink. The function must be safe for concurrent use.
type Func func(line string)

// OnLog calls f(line).
func (f Func) OnLog(line string) {
	f(line)
}

// Discard drops every line.
var Discard Sink = Func(func(string) {})

type logrusSink struct {
	logger *logrus.Logger
}

// Logrus writes each line to logger at info level.
func Logrus(logger *logrus.Logger) Sink {
	if logger == nil {
		logger = logrus.New()
	}
	return &logrusSink{logger: logger}
}

func (s *logrusSink) OnLog(line string) {
	s.logger.WithField("component", "peripheral").Info(line)
}

type multi []Sink

// Multi fans every line out to all sinks, in order. Nil sinks are skipped.
func Multi(sinks ...Sink) Sink {
	out := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multi) OnLog(line string) {
	for _, s := range m {
		s.OnLog(line)
	}
}

// Console prints timestamped lines to a terminal.
type Console struct {
	mu    sync.Mutex
	w     io.Writer
	stamp *color.Color
	now   func() time.Time
}

// NewConsole writes to w; colorize=false strips ANSI sequences.
func NewConsole(w io.Writer, colorize bool) *Console {
	stamp := color.New(color.FgCyan)
	if colorize {
		stamp.EnableColor()
	} else {
		stamp.DisableColor()
	}
	return &Console{w: w, stamp: stamp, now: time.Now}
}

func (c *Console) OnLog(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.w, "%s %s\n", c.stamp.Sprint(c.now().Format("15:04:05")), line)
}

// Recorder keeps every line in memory.
type Recorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *Recorder) OnLog(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
}

// Lines returns a copy of the recorded lines.
func (r *Recorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}
