// Package config defines the snapfn configuration.
//
//   - spec.go: Config struct definition
//   - default.go: default values
//   - verify.go: validation of engine and snapshot requirements
//   - sanitize.go: masking of secrets for logs
//
// Configuration is loaded by internal/infra/confloader from defaults, a
// YAML file, platform environment variables, SNAPFN_ environment variables
// and command-line flags.
package config
