// Package domain defines the core domain models for snapfn.
//
// Domain models are pure value objects without IO dependencies.
// This package contains:
//
//   - Event: the decoded event envelope delivered by the platform
//   - Invocation and Outcome: one request/response cycle
//   - StateRecord and Key: items of the durable store
//   - Errors: structured errors with boundary kinds
package domain
