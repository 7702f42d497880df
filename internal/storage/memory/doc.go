// Package memory provides an in-memory durable state backend.
//
// Records live in a sharded concurrent map. Preconditions are evaluated
// and writes applied under the shard lock, so concurrent writers to the
// same key are serialized and a failed guard changes nothing.
//
// The store is snapshot-safe: its contents can be exported into a
// snapshot image and hydrated again after restore. It is intended for
// tests, local emulation and single-environment deployments.
package memory
