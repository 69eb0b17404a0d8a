// Package events holds the cancellation flags shared between the keyboard
// listener and the control loop.
package events

import "sync/atomic"

// Flags is the session-wide record of operator requests. One Flags value is
// created per session and shared by reference with the keyboard listener
// and every loop run in that session.
//
// Ownership is split per field. The listener goroutine is the only writer
// that sets a field to true; the goroutine running the control loop is the
// only one that clears a field. exit_early is cleared with a compare-and-swap
// in ConsumeExitEarly, so a read and its clear happen as one step and a
// value observed true is consumed exactly once. No other locking is needed.
type Flags struct {
	exitEarly       atomic.Bool
	rerecordEpisode atomic.Bool
	stopRecording   atomic.Bool
}

// New returns a Flags value with every field false.
func New() *Flags {
	return &Flags{}
}

// SetExitEarly asks the running loop to finish after its current iteration.
func (f *Flags) SetExitEarly() {
	f.exitEarly.Store(true)
}

// RequestRerecord marks the current episode for re-recording and exits early.
// rerecord_episode is set before exit_early so a reader that consumes
// exit_early always sees it.
func (f *Flags) RequestRerecord() {
	f.rerecordEpisode.Store(true)
	f.exitEarly.Store(true)
}

// RequestStop ends the recording session and exits early.
func (f *Flags) RequestStop() {
	f.stopRecording.Store(true)
	f.exitEarly.Store(true)
}

// ExitEarly reports the current exit_early value without clearing it.
func (f *Flags) ExitEarly() bool {
	return f.exitEarly.Load()
}

// ConsumeExitEarly reports whether exit_early was set and clears it in the
// same atomic step.
func (f *Flags) ConsumeExitEarly() bool {
	return f.exitEarly.CompareAndSwap(true, false)
}

// RerecordEpisode reports whether the operator asked to redo the episode.
func (f *Flags) RerecordEpisode() bool {
	return f.rerecordEpisode.Load()
}

// ClearRerecord resets rerecord_episode once the episode has been discarded.
func (f *Flags) ClearRerecord() {
	f.rerecordEpisode.Store(false)
}

// StopRecording reports whether the operator asked to end the session.
func (f *Flags) StopRecording() bool {
	return f.stopRecording.Load()
}

// Snapshot is a point-in-time copy of the flags, used for logging and tests.
type Snapshot struct {
	ExitEarly       bool `json:"exit_early"`
	RerecordEpisode bool `json:"rerecord_episode"`
	StopRecording   bool `json:"stop_recording"`
}

// Snapshot copies the current flag values.
func (f *Flags) Snapshot() Snapshot {
	return Snapshot{
		ExitEarly:       f.exitEarly.Load(),
		RerecordEpisode: f.rerecordEpisode.Load(),
		StopRecording:   f.stopRecording.Load(),
	}
}
