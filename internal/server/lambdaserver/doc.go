// Package lambdaserver adapts the dispatcher to the Lambda runtime API
// through aws-lambda-go.
//
// The platform supplies the invocation deadline through the context and the
// request ID through lambdacontext. Failed outcomes are returned as
// InvokeResponse_Error so the platform reports their kind as errorType.
package lambdaserver
