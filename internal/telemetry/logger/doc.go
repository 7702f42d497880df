// Package logger is snapfn's structured logging, built on log/slog.
//
// Output is JSON by default, which is what the platform's log collector
// parses; text and a colorized console format are for local use. Every
// handler masks secrets and AWS access key IDs, and attaches the
// invocation's request_id and route from the context passed to the
// *Context methods or bound with L.
//
// The level is process-wide and can be changed at runtime with SetLevel.
package logger
