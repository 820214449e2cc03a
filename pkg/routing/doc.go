// Package routing holds the request model and classification used by the
// gateway.
//
// A Request is classified into one of four categories (standard, thinking,
// vision, tools). Each non-standard category implies exactly one provider
// capability, which the gateway uses to filter candidate providers before a
// selection strategy from the strategies subpackage picks one.
//
// The package also defines the gateway error taxonomy. Every typed error
// matches a sentinel through errors.Is, and ErrorCode / StatusCode map any
// error to the stable code and HTTP status carried in failed responses.
package routing
