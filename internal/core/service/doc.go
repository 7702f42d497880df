// Package service provides domain services for snapfn.
//
// Domain services orchestrate operations on domain models. They define
// interfaces for storage dependencies, allowing for dependency injection
// and testability.
//
// This package contains:
//
//   - StateRepository: the contract every durable store backend implements
//   - Precondition: version guards evaluated atomically by the backend
//   - StateClient: the durable state client handed to business logic, with
//     version guards, retries for transient failures and rate limiting
//
// StateClient is safe for concurrent use. It holds no per-invocation state
// and caches nothing, so a client captured in a snapshot image behaves the
// same after restore once its repository has reconnected.
package service
