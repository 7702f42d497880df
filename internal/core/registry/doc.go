// Package registry holds the explicit route table consulted by the
// dispatcher. Routes are bound during initialization, the table is sealed
// when the snapshot point is captured, and its fingerprint is recorded in the
// image so a restore can tell whether the code it resumes into still serves
// the same routes.
package registry
