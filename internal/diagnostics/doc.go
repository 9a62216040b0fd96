// Package diagnostics writes crash dumps when a command panics.
//
// A CrashDumpWriter is installed with a deferred RecoverAndReturn around the
// fetch loop. On panic it persists the panic value, stack, process resource
// usage and the current run context as JSON under the state directory, keeps
// at most MaxFiles dumps, and converts the panic into an ordinary error.
package diagnostics
