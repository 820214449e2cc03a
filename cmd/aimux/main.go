// aimux is an intelligent API gateway for Anthropic-compatible LLM
// providers.
//
// It classifies every request (standard, thinking, vision, tools), routes
// it to a healthy provider with the required capability using weighted
// random selection, and fails over to alternatives when a provider errors.
// A per-provider circuit breaker takes failing providers out of rotation
// until a background probe or a request after the recovery delay succeeds.
//
// Usage:
//
//	# Start the gateway
//	aimux run --config aimux.yaml
//
//	# Check a configuration file
//	aimux validate --config aimux.yaml
//
//	# List configured providers and their capabilities
//	aimux providers --capability vision
//
//	# Inspect stored configuration snapshots
//	aimux snapshots list
//
//	# Show version information
//	aimux version
package main

import "os"

func main() {
	os.Exit(Execute())
}
