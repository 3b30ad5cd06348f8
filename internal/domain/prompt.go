package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"
)

// MaxPromptLength caps sanitized prompt text.
const MaxPromptLength = 5000

var (
	scriptTagRE = regexp.MustCompile(`(?is)<script\b.*?</script>`)
	htmlTagRE   = regexp.MustCompile(`<[^>]*>`)
)

// SanitizePrompt strips script blocks and markup from user input,
// trims whitespace and caps the length at MaxPromptLength.
func SanitizePrompt(input string) string {
	out := scriptTagRE.ReplaceAllString(input, "")
	out = htmlTagRE.ReplaceAllString(out, "")
	out = strings.TrimSpace(out)
	if len(out) > MaxPromptLength {
		out = out[:MaxPromptLength]
	}
	return out
}

// Fingerprint returns the SHA-256 hex digest of the sanitized prompt,
// used as the response-cache key.
func Fingerprint(sanitized string) string {
	sum := sha256.Sum256([]byte(sanitized))
	return hex.EncodeToString(sum[:])
}

// CallerIdentity derives the pseudo-identifier used for quota and
// rate-limit partitioning from the caller's network origin.
func CallerIdentity(ip string) string {
	if ip == "" {
		ip = "unknown"
	}
	return "ip_" + strings.ReplaceAll(ip, ".", "_")
}

// DayBucket formats t as the calendar-day component of counter keys.
func DayBucket(t time.Time) string {
	return t.Format("2006-01-02")
}

// NextMidnight returns the next local midnight after t, reported to
// callers as the daily quota reset time.
func NextMidnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}
