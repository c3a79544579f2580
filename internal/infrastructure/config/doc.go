// Package config handles loading and validating pipresencemon configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of sensor, window, threshold, and restart ranges
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (MQTT password, InfluxDB token) should be set via environment variables
//   - Commands listed under supervisor are executed with the daemon's privileges,
//     so the config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/pipresencemon.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Sensor.Pin)
package config
