// Package logx is a thin structured-logging layer over zerolog.
//
// It provides:
//   - a Logger with functional Field helpers (String, Int, Err, ...)
//   - a Service that owns the sinks (console, file, supervisor channel)
//     and can be re-applied at runtime from config reloads
//
// The channel sink forwards WARN+ events to a Mezon channel through a
// rate limiter so a failure storm cannot flood the workspace.
package logx
