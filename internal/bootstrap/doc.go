// Package bootstrap assembles a runnable snapfn process from configuration.
//
// It is the only package that knows every concrete implementation: the
// configured state backend, the image manager, the lifecycle environment,
// the business routes and the transport in front of the dispatcher.
package bootstrap
