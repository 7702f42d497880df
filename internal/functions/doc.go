// Package functions registers the business handlers served by snapfn.
package functions
