package common

// MaskSecret masks sensitive strings for safe logging. Shows the first
// and last four characters for strings longer than 8 chars, "***" for
// short strings and "<not set>" for empty ones.
func MaskSecret(secret string) string {
	if secret == "" {
		return "<not set>"
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}
