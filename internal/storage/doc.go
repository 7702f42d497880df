// Package storage provides the durable state backends for snapfn.
//
// Open builds a service.StateRepository for the configured engine:
//
//   - memory: sharded in-memory map (package memory), snapshot-safe
//   - badger: embedded Badger v3 database on local disk
//   - dynamodb: a DynamoDB table (package dynamo)
//
// Backends that hold process-bound resources (file locks, connection
// pools, credentials) implement Reconnector so the execution environment
// can release them before a snapshot is captured and reacquire them after
// restore. Backends whose contents can travel inside a snapshot image
// implement Exporter.
package storage
