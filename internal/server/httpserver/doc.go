// Package httpserver serves the local emulator over HTTP using chi.
//
// Routes:
//
//	POST /2015-03-31/functions/function/invocations   Lambda-compatible invoke
//	POST /invoke                                      invoke with HTTP status mapping
//	GET  /health, /ready                              liveness and readiness
//	GET  /snapshot                                    active image summary
//	GET  /metrics                                     Prometheus metrics
package httpserver
