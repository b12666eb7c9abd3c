package goggles

import "errors"

var (
	// ErrClosed is returned when operations are attempted on a closed
	// engine.
	ErrClosed = errors.New("engine is closed")

	// ErrOptimizationRunning is returned when an optimization is forced
	// while another one is still in flight.
	ErrOptimizationRunning = errors.New("optimization already in progress")

	// ErrNotOptimizable is returned by a forced optimization when the
	// index is already at its highest representation or too small to
	// escalate.
	ErrNotOptimizable = errors.New("no higher representation applicable")
)
