package stackalign

import "errors"

var (
	// ErrNoSections is returned when the requested section range contains
	// no sections of the stack.
	ErrNoSections = errors.New("no sections in requested range")

	// ErrNoTiles is returned when a 3D section range yields no tiles at
	// all. A single empty montage section is skipped, not fatal.
	ErrNoTiles = errors.New("no tiles in requested range")

	// ErrNoPersistStore is returned when a mode needs a persisted-system
	// store and none was configured.
	ErrNoPersistStore = errors.New("no persisted-system store configured")

	// errProfileAbort unwinds the pipeline after assembly in profiling
	// mode. It never escapes Run; the requested early exit is reported as
	// a successful, profiled result.
	errProfileAbort = errors.New("profiling run, exiting after assembly")
)
