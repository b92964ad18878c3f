// SPDX-License-Identifier: Apache-2.0

package sync

import "sync/atomic"

// ControlHandle owns one job's cancellation flag, replacing a process-wide
// "cancelledJobs" set with a value the caller holds and passes in
// (spec.md §9). Pause is cooperative: Execute checks it at every loop
// boundary and returns with a resumable checkpoint rather than aborting
// mid-transaction.
type ControlHandle struct {
	cancelled atomic.Bool
	paused    atomic.Bool
}

func NewControlHandle() *ControlHandle {
	return &ControlHandle{}
}

// Cancel requests that the job stop at its next loop boundary without
// intent to resume.
func (h *ControlHandle) Cancel() { h.cancelled.Store(true) }

// Pause requests that the job stop at its next loop boundary and produce a
// checkpoint for a later resume.
func (h *ControlHandle) Pause() { h.paused.Store(true) }

func (h *ControlHandle) isCancelled() bool { return h.cancelled.Load() }
func (h *ControlHandle) isPaused() bool    { return h.paused.Load() }

func (h *ControlHandle) shouldStop() bool {
	return h.cancelled.Load() || h.paused.Load()
}
