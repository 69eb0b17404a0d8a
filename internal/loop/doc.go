// Package loop runs the real-time control loop and the episode lifecycle
// built on top of it.
//
// A Loop drives one bounded or unbounded run against a robot.Device:
// teleoperation or policy-driven control, optional frame recording,
// optional camera display, fixed-rate pacing by a Governor, and early exit
// through shared events.Flags. A Session composes loops into the warm-up,
// record, reset and shutdown phases of a recording session, and
// CheckCompatibility validates a recording target against the live device
// before any episode is recorded.
package loop
