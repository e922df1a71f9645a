// Package status carries short-lived out-of-band outcomes (health checks,
// session resets, exports) that sit beside the conversation rather than in it.
package status

import (
	"sync"
	"time"
)

const DefaultWindow = 3 * time.Second

type Kind int

const (
	Success Kind = iota + 1
	Error
	Pending
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case Error:
		return "error"
	case Pending:
		return "pending"
	default:
		return "none"
	}
}

type Topic string

const (
	TopicHealth    Topic = "health"
	TopicSession   Topic = "session"
	TopicExport    Topic = "export"
	TopicClipboard Topic = "clipboard"
)

type Signal struct {
	Kind      Kind
	Topic     Topic
	Text      string
	CreatedAt time.Time
	seq       uint64
}

// Channel holds at most one Signal. Each new Signal stops the previous
// auto-clear timer, so only the latest one can expire the status.
type Channel struct {
	mu      sync.Mutex
	window  time.Duration
	now     func() time.Time
	seq     uint64
	current *Signal
	timer   *time.Timer
	onClear []func(Signal)
}

type Option func(*Channel)

func WithClock(now func() time.Time) Option {
	return func(c *Channel) { c.now = now }
}

func New(window time.Duration, opts ...Option) *Channel {
	if window <= 0 {
		window = DefaultWindow
	}
	c := &Channel{window: window, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Channel) Window() time.Duration { return c.window }

func (c *Channel) Signal(kind Kind, topic Topic, text string) Signal {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
	}
	c.seq++
	sig := Signal{Kind: kind, Topic: topic, Text: text, CreatedAt: c.now(), seq: c.seq}
	c.current = &sig
	seq := c.seq
	c.timer = time.AfterFunc(c.window, func() { c.expire(seq) })
	return sig
}

func (c *Channel) Current() (Signal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return Signal{}, false
	}
	return *c.current, true
}

// OnClear registers fn to run after a signal expires. fn runs on the timer
// goroutine without the channel lock held.
func (c *Channel) OnClear(fn func(Signal)) {
	c.mu.Lock()
	c.onClear = append(c.onClear, fn)
	c.mu.Unlock()
}

// Clear drops the current signal immediately.
func (c *Channel) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.current = nil
}

// Close stops any pending timer without notifying listeners.
func (c *Channel) Close() {
	c.Clear()
}

func (c *Channel) expire(seq uint64) {
	c.mu.Lock()
	if c.current == nil || c.current.seq != seq {
		c.mu.Unlock()
		return
	}
	sig := *c.current
	c.current = nil
	c.timer = nil
	listeners := make([]func(Signal), len(c.onClear))
	copy(listeners, c.onClear)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(sig)
	}
}
