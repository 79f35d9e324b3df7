// Package logging builds the structured log/slog logger shared by every
// homesync component.
//
// Records carry service and version fields. Output is JSON unless the
// format is "text":
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// WithMetrics counts warn and error records in a VictoriaMetrics set so
// they show up on /metrics.
//
// Never log credentials, session tokens or SSO tokens.
package logging
