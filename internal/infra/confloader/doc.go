// Package confloader loads configuration with koanf and watches the
// configuration file for changes.
//
// Priority (highest to lowest):
//
//  1. Overrides (command-line flags)
//  2. SNAPFN_ environment variables, "__" between nesting levels
//  3. Platform environment variables (TABLE_NAME, AWS_REGION, ...)
//  4. Configuration file (YAML)
//  5. Defaults held by the target struct
package confloader
