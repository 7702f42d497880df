// Package dispatch turns raw platform events into outcomes.
//
// A Dispatcher admits one invocation at a time through its Gate, decodes the
// event envelope, resolves the route in the registry and runs the handler
// under the invocation deadline. Handlers that overrun are abandoned and the
// invocation fails with a Timeout outcome at the deadline.
package dispatch
