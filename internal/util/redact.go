package util

import "regexp"

var (
	bearerPattern   = regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9._~+/=-]{8,}`)
	keyValuePattern = regexp.MustCompile(`(?i)(api_key|apikey|secret|token|password|access_key|private_key|authorization)("?\s*[:=]\s*"?)([^\s"',}]+)`)
	privateKeyBlock = regexp.MustCompile(`(?is)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`)
	jwtPattern      = regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+\.?[a-zA-Z0-9_-]*`)
	skPattern       = regexp.MustCompile(`(?i)sk-[a-z0-9_-]{20,}`)
)

// RedactSecrets removes likely credentials from prompts, replies and errors before they are logged.
func RedactSecrets(input string) string {
	out := privateKeyBlock.ReplaceAllString(input, "[REDACTED PRIVATE KEY]")
	out = jwtPattern.ReplaceAllString(out, "[REDACTED JWT]")
	out = bearerPattern.ReplaceAllString(out, "${1}[REDACTED]")
	out = keyValuePattern.ReplaceAllString(out, "${1}${2}[REDACTED]")
	out = skPattern.ReplaceAllString(out, "[REDACTED KEY]")
	return out
}
