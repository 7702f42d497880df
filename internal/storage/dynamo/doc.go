// Package dynamo implements the durable state backend on a DynamoDB table.
//
// Items are addressed by a partition attribute (PK) and a sort attribute
// (SK). A JSON object payload is stored as top-level item attributes, so
// items written by other producers (for example person#<id>/DETAILS with
// firstName and lastName) are read back as plain JSON objects. Any other
// payload is stored verbatim in the _raw attribute.
//
// Reserved attributes:
//
//	PK, SK        key
//	version       optimistic concurrency version (N)
//	lastModified  RFC 3339 timestamp (S)
//	expiresAt     epoch seconds (N), the table's TTL attribute
//	_raw          non-object payload (S)
//
// Every guarded write is a single conditional request. SDK retries are
// disabled; the state client owns the retry policy.
package dynamo
