// Package syscall is the trap-side dispatch layer. Each entry point
// resolves the calling thread to its process, runs the externally-delegated
// permission check, invokes the matching core operation and folds its typed
// error into a platform errno. No kernel policy lives here; the package
// only adapts surfaces.
package syscall
