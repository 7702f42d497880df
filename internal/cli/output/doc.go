// Package output renders command results as a table, JSON or YAML.
//
// Tables are built from a *Table, a struct (one FIELD/VALUE row per field),
// a slice of structs (one row per element) or a map (rows sorted by key).
// Struct fields tagged `table:"-"` are never shown and fields tagged
// `table:"wide"` only appear in wide mode.
package output
