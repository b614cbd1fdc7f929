// Package config handles loading and validating Solar Controller Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with SOLARCORE_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (MQTT password, JWT secret, InfluxDB token) should be
//     set via environment variables
//   - security.dev_tokens must stay off outside local development
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.MQTT.Namespace)
package config
