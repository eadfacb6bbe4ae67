// Package config handles loading and validating IntelliFlow Signal Core
// configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields and timing parameters
//   - Default value handling
//
// Timing and EVP parameters are validated at load time so that a
// misconfigured controller fails at startup instead of driving the
// intersection with unsafe values.
//
// Security Considerations:
//   - Sensitive values (passwords, tokens) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - JWT secrets must be changed from defaults before production use
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.System.Mode)
package config
