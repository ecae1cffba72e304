// Package logging provides slog setup with credential redaction.
//
// New builds a *slog.Logger from level and format strings. Redaction is
// on by default: attribute keys that look like credentials are replaced
// wholesale, and string values are scanned for Authorization headers and
// URL userinfo passwords. The proxy admin password must never reach log
// output.
package logging
