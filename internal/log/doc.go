// Package log builds the slog loggers used across adsweep.
//
// Every logger returned here is wrapped in a SecureHandler, which masks
// credentials before they reach the output:
//   - session material such as access tokens and browser cookies
//   - values that look like bearer tokens or JWTs
//   - email addresses, which are shortened to their first letter and domain
//
// Usage:
//
//	logger := log.NewSecureLogger(os.Stderr, verbose)
//	logger.Info("user logged in", "userEmail", "ana@example.com") // a***@example.com
//	slog.SetDefault(logger)
package log
