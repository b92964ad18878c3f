// SPDX-License-Identifier: Apache-2.0

package sink

import "sync"

// LogEntry is one structured log line emitted through a Channel sink.
type LogEntry struct {
	Level string
	Msg   string
	Args  []any
}

// CompleteEvent is the final outcome pushed to a Channel sink's CompleteCh.
type CompleteEvent struct {
	Success    bool
	Checkpoint *Checkpoint
}

// Channel is a JobSink that publishes progress updates, log entries,
// checkpoints, and the final outcome to Go channels instead of a terminal
// or file, for callers (a web UI, a gRPC stream) that want to consume them
// directly.
type Channel struct {
	ProgressCh   chan Progress
	LogCh        chan LogEntry
	CheckpointCh chan Checkpoint
	CompleteCh   chan CompleteEvent

	closeOnce sync.Once
}

// NewChannel creates a Channel sink with the given buffer size for each
// channel. A full channel drops the update rather than blocking the
// executor.
func NewChannel(buffer int) *Channel {
	return &Channel{
		ProgressCh:   make(chan Progress, buffer),
		LogCh:        make(chan LogEntry, buffer),
		CheckpointCh: make(chan Checkpoint, buffer),
		CompleteCh:   make(chan CompleteEvent, buffer),
	}
}

func (c *Channel) Progress(p Progress) {
	select {
	case c.ProgressCh <- p:
	default:
	}
}

func (c *Channel) Info(msg string, args ...any)  { c.publish("info", msg, args) }
func (c *Channel) Warn(msg string, args ...any)  { c.publish("warn", msg, args) }
func (c *Channel) Error(msg string, args ...any) { c.publish("error", msg, args) }

func (c *Channel) publish(level, msg string, args []any) {
	select {
	case c.LogCh <- LogEntry{Level: level, Msg: msg, Args: args}:
	default:
	}
}

func (c *Channel) Checkpoint(cp Checkpoint) {
	select {
	case c.CheckpointCh <- cp:
	default:
	}
}

func (c *Channel) Complete(success bool, cp *Checkpoint) {
	select {
	case c.CompleteCh <- CompleteEvent{Success: success, Checkpoint: cp}:
	default:
	}
}

// Close closes all four channels. Consumers must stop reading after Close.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		close(c.ProgressCh)
		close(c.LogCh)
		close(c.CheckpointCh)
		close(c.CompleteCh)
	})
	return nil
}
