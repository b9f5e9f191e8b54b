// Package notify carries user-facing outcome messages from the managers to
// whatever surface is showing them: a log, a rendered page, a terminal.
package notify

import (
	"sync"

	"go.uber.org/zap"
)

// Level classifies a notification.
type Level int

const (
	Info Level = iota
	Success
	Warning
	Error
)

func (l Level) String() string {
	switch l {
	case Success:
		return "success"
	case Warning:
		return "warning"
	case Error:
		return "error"
	default:
		return "info"
	}
}

// Notifier receives outcome messages.
type Notifier interface {
	Notify(level Level, msg string)
}

// Func adapts a plain function to Notifier.
type Func func(level Level, msg string)

// Notify calls f.
func (f Func) Notify(level Level, msg string) { f(level, msg) }

// Discard drops every message.
var Discard Notifier = Func(func(Level, string) {})

// Log writes notifications to a zap logger.
type Log struct {
	L *zap.Logger
}

// Notify logs msg at the zap level matching level.
func (n Log) Notify(level Level, msg string) {
	switch level {
	case Error:
		n.L.Error(msg)
	case Warning:
		n.L.Warn(msg)
	default:
		n.L.Info(msg, zap.Stringer("level", level))
	}
}

// Message is one collected notification.
type Message struct {
	Level Level
	Text  string
}

// Collector buffers notifications so a page can render them as flash
// messages. Safe for concurrent use.
type Collector struct {
	mu   sync.Mutex
	msgs []Message
}

// Notify appends the message.
func (c *Collector) Notify(level Level, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, Message{Level: level, Text: msg})
}

// Messages returns the collected messages in arrival order.
func (c *Collector) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.msgs))
	copy(out, c.msgs)
	return out
}

// Drain returns the collected messages and forgets them.
func (c *Collector) Drain() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.msgs
	c.msgs = nil
	return out
}

// Multi fans a notification out to several notifiers.
func Multi(ns ...Notifier) Notifier {
	return Func(func(level Level, msg string) {
		for _, n := range ns {
			if n != nil {
				n.Notify(level, msg)
			}
		}
	})
}
