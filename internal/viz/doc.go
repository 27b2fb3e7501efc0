// Package viz is the terminal monitor for a running controller.
//
// [Monitor] is a Bubble Tea model that advances a closed loop a few
// control ticks per frame and shows:
//
//   - a sagittal side view of the robot drawn on a braille [Canvas]
//   - the tracked height against its reference
//   - the solve time, QP iterations and failed ticks
//   - a bar per actuator scaled by its effort limit
//
// # Key Bindings
//
//	Space - Pause/Resume
//	R     - Restart from the initial state
//	+/-   - Double/halve the ticks per frame
//	T     - Cycle color themes
//	?     - Show help overlay
package viz
