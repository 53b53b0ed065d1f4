// Package config provides configuration loading and validation for splice.
//
// The package handles YAML configuration files, environment variables, and CLI flags
// with automatic merging and validation using go-playground/validator.
//
// # Configuration Precedence
//
// Values are loaded in this order (later sources override earlier ones):
//
//  1. Default values
//  2. Configuration file(s) - multiple files merged left-to-right
//  3. Environment variables (SPLICE_ prefix)
//  4. CLI flags
//
// # Usage
//
//	cfg, err := config.Load([]string{"config.yaml"}, cmd.Flags())
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Store in context for subcommands
//	ctx = config.WithContext(ctx, cfg)
//
//	// Retrieve later
//	cfg, err = config.FromContext(ctx)
//
// # Environment Variables
//
// All config keys map to environment variables with SPLICE_ prefix:
//   - server.port → SPLICE_SERVER_PORT
//   - storage.backend → SPLICE_STORAGE_BACKEND
//   - finalize.mode → SPLICE_FINALIZE_MODE
//
// # Configuration Structure
//
//   - Server: port, max_chunk_size and shutdown_timeout
//   - Storage: backend (filesystem or s3), path, and s3 connection settings
//   - Finalize: mode (deferred or inline), workers, timeout, attempts,
//     lease_ttl, retry_window, lock (blob or database) and resume_on_start
//   - Database: type, DSN and table of the SQL lease backend
//   - Cleanup: interval and max_age of the abandoned session sweep
//   - CORS, Metrics, Log
//
// # Validation
//
// Configuration is validated using struct tags, plus a struct-level check
// that the selected storage backend has its required settings.
package config
