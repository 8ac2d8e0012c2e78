// Package pkg provides shared utilities for the softxhci host controller stack.
//
// This package contains common functionality used across the controller
// engine, the platform layer and the host bus manager, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel error types shared by every layer
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with per-component context:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentController, "controller running", "slots", 8)
//
// # Errors
//
// Common errors are defined as sentinel values:
//
//	if errors.Is(err, pkg.ErrTimeout) {
//	    // The controller never reached the awaited state
//	}
package pkg
