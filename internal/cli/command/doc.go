// Package command defines the snapfn command line.
//
// The same binary is the Lambda entry point (lambda), the local emulator
// (serve), a one-shot invoker for testing handlers against a configured
// store (invoke) and the snapshot image tool (snapshot).
package command
