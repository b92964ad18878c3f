// SPDX-License-Identifier: Apache-2.0

// Package sink reports sync job progress and structured log lines to
// pluggable destinations: a terminal spinner showing progress, a rotating
// log file holding every update and log line, or Go channels for
// programmatic callers (spec.md §4.9.4, "emits progress").
package sink

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/pterm/pterm"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Progress is one point-in-time update for a running job.
type Progress struct {
	JobID       string
	Table       string
	RowsDone    int64
	RowsTotal   int64
	Phase       string
	Message     string
}

// Checkpoint is a resume position pushed to the sink periodically during a
// table's batch loop (not only when a job stops), so a mid-table crash
// still leaves a usable resume point recoverable from wherever the sink
// persists it.
type Checkpoint struct {
	JobID           string
	Table           string
	LastRowID       string
	ProcessedTables []string
}

// JobSink receives progress updates, structured log lines, periodic
// checkpoints, and the final outcome of a sync job. Implementations must
// not block the executor for long; expensive work (writing to disk, a
// remote collector) should be buffered.
type JobSink interface {
	Progress(p Progress)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Checkpoint(cp Checkpoint)
	Complete(success bool, cp *Checkpoint)
	Close() error
}

// Multi shows progress on a pterm spinner in the terminal and writes every
// update and log line through a pterm logger to a rotating log file
// (lumberjack). Log lines are written to the file only, not the terminal.
type Multi struct {
	logger   pterm.Logger
	file     *lumberjack.Logger
	spinners map[string]*pterm.SpinnerPrinter
}

// FileConfig configures the rotating log file lumberjack writes to.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

func NewMulti(cfg FileConfig) *Multi {
	file := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}

	logger := pterm.DefaultLogger
	logger.Writer = file

	return &Multi{
		logger:   logger,
		file:     file,
		spinners: map[string]*pterm.SpinnerPrinter{},
	}
}

func (m *Multi) Progress(p Progress) {
	msg := p.Message
	if msg == "" {
		msg = fmt.Sprintf("%s: %s/%s rows", p.Table, humanize.Comma(p.RowsDone), humanize.Comma(p.RowsTotal))
	}

	sp, ok := m.spinners[p.JobID]
	if !ok {
		started, _ := pterm.DefaultSpinner.WithText(msg).Start()
		m.spinners[p.JobID] = started
		sp = started
	}
	sp.UpdateText(msg)

	m.logger.Info("progress", m.logger.Args(
		"job", p.JobID, "table", p.Table, "phase", p.Phase,
		"rows_done", p.RowsDone, "rows_total", p.RowsTotal,
	))
}

func (m *Multi) Info(msg string, args ...any) {
	m.logger.Info(msg, m.logger.Args(args))
}

func (m *Multi) Warn(msg string, args ...any) {
	m.logger.Warn(msg, m.logger.Args(args))
}

func (m *Multi) Error(msg string, args ...any) {
	m.logger.Error(msg, m.logger.Args(args))
}

func (m *Multi) Checkpoint(cp Checkpoint) {
	m.logger.Info("checkpoint", m.logger.Args(
		"job", cp.JobID, "table", cp.Table, "last_row_id", cp.LastRowID,
	))
}

func (m *Multi) Complete(success bool, cp *Checkpoint) {
	if success {
		m.logger.Info("job completed", m.logger.Args())
		return
	}
	args := []any{"success", false}
	if cp != nil {
		args = append(args, "table", cp.Table, "last_row_id", cp.LastRowID)
	}
	m.logger.Info("job stopped", m.logger.Args(args))
}

// Close stops any active spinners and closes the rotating log file.
func (m *Multi) Close() error {
	for _, sp := range m.spinners {
		_ = sp.Stop()
	}
	return m.file.Close()
}
