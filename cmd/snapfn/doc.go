// Package main provides the entry point for snapfn.
//
// In the platform the binary is started without arguments as the custom
// runtime bootstrap and runs the lambda command. Elsewhere it is a normal
// command line:
//
//	snapfn serve --addr 127.0.0.1:9000
//	snapfn --set store.engine=memory invoke '{"route":"greet"}'
//	snapfn snapshot list -o json
package main
