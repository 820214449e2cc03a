// Package config provides configuration management for the aimux gateway.
//
// This package handles loading, validating, and watching the gateway
// configuration document. The document is YAML, and because YAML is a superset
// of JSON the historical JSON layout loads without conversion:
//
//	{
//	  "default_provider": "anthropic",
//	  "thinking_provider": "deepseek",
//	  "providers": {
//	    "anthropic": {
//	      "base_url": "https://api.anthropic.com",
//	      "api_key": "sk-ant-...",
//	      "supports_tools": true,
//	      "priority_score": 90
//	    }
//	  }
//	}
//
// # Configuration Loading
//
//  1. From a file only:
//     cfg, err := config.LoadConfig("aimux.yaml")
//
//  2. From a file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("aimux.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention AIMUX_SECTION_FIELD:
//
//   - AIMUX_SERVER_LISTEN_ADDRESS overrides server.listen_address
//   - AIMUX_PROVIDERS_ANTHROPIC_API_KEY overrides providers.anthropic.api_key
//   - AIMUX_LOG_LEVEL overrides telemetry.logging.level
//
// # Validation
//
// Validation collects every problem into a ValidationError. An enabled
// provider without a base URL or API key is always an error.
//
// # Hot Reload
//
// Watcher re-reads the file on change (debounced) and hands the new
// configuration to a callback; an invalid file is logged and skipped.
package config
