// Package handler provides the HTTP handlers of the local emulator.
//
// The Lambda-compatible invoke endpoint returns the raw outcome the way the
// platform would. The /invoke endpoint wraps it in the JSON envelope used
// by every other endpoint and maps failure kinds to HTTP statuses.
package handler
