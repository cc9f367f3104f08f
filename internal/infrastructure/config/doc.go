// Package config handles loading and validating Colour Lab Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Secrets (advisor API keys, MQTT password, JWT secret) should be set via
//     environment variables rather than committed to the config file
//   - Leaving security.jwt.secret empty disables bearer authentication
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml", false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Lab.BaseURL)
package config
