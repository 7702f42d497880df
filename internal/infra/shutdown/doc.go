// Package shutdown coordinates graceful termination.
//
// Hooks drain the execution environment, stop listeners and close the
// state store. They run once, newest first, under a shared timeout.
package shutdown
