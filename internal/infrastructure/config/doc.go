// Package config handles loading and validating homesync configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Account credentials and broker passwords should be set via environment
//     variables (HOMESYNC_ACCOUNT_PASSWORD, HOMESYNC_ACCOUNT_SSO_TOKEN)
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Account.Group)
package config
