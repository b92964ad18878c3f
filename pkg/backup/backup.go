// SPDX-License-Identifier: Apache-2.0

// Package backup snapshots and restores a target database around a sync
// job, shelling out to pg_dump and pg_restore (spec.md §4.8). A backup
// failure is non-fatal to the job that requested it; a restore is only
// ever attempted once per job.
package backup

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Metadata describes one completed backup.
type Metadata struct {
	ID          string
	JobID       string
	Database    string
	TakenAt     time.Time
	SizeBytes   int64
	Path        string
}

// Store persists backup artifacts out of process memory (e.g. to local
// disk, object storage). The Manager writes the pg_dump stream to it and
// reads it back for restore.
type Store interface {
	Save(ctx context.Context, id string, data io.Reader) (int64, error)
	Open(ctx context.Context, id string) (io.ReadCloser, error)
}

// ConnParams are the connection parameters passed to pg_dump/pg_restore as
// flags, mirroring how the target URL is already broken down elsewhere in
// the engine.
type ConnParams struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
}

func (c ConnParams) env() []string {
	var env []string
	if c.Password != "" {
		env = append(env, "PGPASSWORD="+c.Password)
	}
	if c.SSLMode != "" {
		env = append(env, "PGSSLMODE="+c.SSLMode)
	}
	return env
}

func (c ConnParams) connArgs() []string {
	args := []string{"-h", c.Host}
	if c.Port > 0 {
		args = append(args, "-p", fmt.Sprintf("%d", c.Port))
	}
	if c.User != "" {
		args = append(args, "-U", c.User)
	}
	return args
}

// Manager drives pg_dump/pg_restore subprocesses and tracks restore-once
// semantics per job.
type Manager struct {
	store Store

	mu       sync.Mutex
	restored map[string]bool // jobID -> already restored
}

func New(store Store) *Manager {
	return &Manager{store: store, restored: map[string]bool{}}
}

// Snapshot runs pg_dump in custom format against target and saves the
// stream to the store. A failure here must not abort the caller's job; the
// caller decides whether to proceed without a backup.
func (m *Manager) Snapshot(ctx context.Context, jobID string, target ConnParams) (*Metadata, error) {
	id := uuid.NewString()

	args := append([]string{"-Fc", "-v"}, target.connArgs()...)
	args = append(args, target.Database)

	cmd := exec.CommandContext(ctx, "pg_dump", args...)
	cmd.Env = target.env()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("opening pg_dump stdout: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting pg_dump: %w", err)
	}

	size, saveErr := m.store.Save(ctx, id, stdout)
	waitErr := cmd.Wait()

	if waitErr != nil {
		return nil, fmt.Errorf("pg_dump failed: %w: %s", waitErr, stderr.String())
	}
	if saveErr != nil {
		return nil, fmt.Errorf("saving backup %s: %w", id, saveErr)
	}

	return &Metadata{
		ID:        id,
		JobID:     jobID,
		Database:  target.Database,
		TakenAt:   time.Now(),
		SizeBytes: size,
	}, nil
}

// Restore runs pg_restore against target, streaming from the stored
// backup. It is a no-op (returning an error) if this jobID has already
// been restored, since restoring twice would double-apply a rollback.
func (m *Manager) Restore(ctx context.Context, jobID string, meta *Metadata, target ConnParams) error {
	m.mu.Lock()
	if m.restored[jobID] {
		m.mu.Unlock()
		return fmt.Errorf("backup: job %s has already been restored once", jobID)
	}
	m.restored[jobID] = true
	m.mu.Unlock()

	data, err := m.store.Open(ctx, meta.ID)
	if err != nil {
		return fmt.Errorf("opening backup %s: %w", meta.ID, err)
	}
	defer data.Close()

	args := append([]string{"--clean", "--if-exists", "--no-owner", "--no-privileges", "-v", "-d", target.Database}, target.connArgs()...)

	cmd := exec.CommandContext(ctx, "pg_restore", args...)
	cmd.Env = target.env()
	cmd.Stdin = data

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("pg_restore failed: %w: %s", err, stderr.String())
	}
	return nil
}

// HasRestored reports whether Restore has already run to completion (or
// been attempted) for jobID.
func (m *Manager) HasRestored(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.restored[jobID]
}
