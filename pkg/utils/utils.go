package utils

import (
	"crypto/rand"
	"log/slog"
	"math/big"
	mathrand "math/rand"
	"strings"
)

const alphanumericCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
const digitCharset = "0123456789"

// GenerateRandomString returns a cryptographically secure random string of
// the given length drawn from an alphanumeric charset. Falls back to
// math/rand only if crypto/rand fails.
func GenerateRandomString(length int) string {
	return randomFromCharset(length, alphanumericCharset)
}

// GenerateRandomDigits returns a cryptographically secure random string of
// the given length containing only decimal digits. Useful for one-time codes.
func GenerateRandomDigits(length int) string {
	return randomFromCharset(length, digitCharset)
}

func randomFromCharset(length int, charset string) string {
	var sb strings.Builder
	sb.Grow(length)
	max := big.NewInt(int64(len(charset)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			slog.Error("Failed to generate secure random number, falling back to math/rand", "err", err)
			sb.WriteByte(charset[mathrand.Intn(len(charset))])
			continue
		}
		sb.WriteByte(charset[n.Int64()])
	}
	return sb.String()
}

// MaskEmail masks the local part of an email address for display and logging.
//
//	MaskEmail("a@example.com")    // "a@example.com"
//	MaskEmail("ab@example.com")   // "a*b@example.com"
//	MaskEmail("john@example.com") // "j***n@example.com"
func MaskEmail(email string) string {
	at := strings.Index(email, "@")
	if at < 0 {
		return email
	}
	local, domain := email[:at], email[at:]
	switch len(local) {
	case 0, 1:
		return email
	case 2:
		return local[:1] + "*" + local[1:] + domain
	default:
		return local[:1] + "***" + local[len(local)-1:] + domain
	}
}
