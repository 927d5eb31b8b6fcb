package util

import (
	"strconv"
	"strings"
)

const (
	maskPrefixLen   = 10
	maskSuffixLen   = 5
	maskPlaceholder = "*****"
)

// MaskSecret renders a secret for operator display: first 10 and last 5
// characters with a fixed placeholder between. The placeholder length is
// constant so the mask leaks nothing about the secret's length beyond
// prefix+suffix. Short values are fully replaced.
func MaskSecret(secret string) string {
	if len(secret) < maskPrefixLen+maskSuffixLen {
		return maskPlaceholder
	}
	return secret[:maskPrefixLen] + maskPlaceholder + secret[len(secret)-maskSuffixLen:]
}

// Decodes a string to an int, 0 on failure
func StringToInt(str string) int {
	atoi, err := strconv.Atoi(str)
	if err != nil {
		return 0
	}
	return atoi
}

func IsNilOrEmpty(s *string) bool {
	return s == nil || *s == ""
}

// NormalizeExchange lowercases and trims an exchange identifier
func NormalizeExchange(exchange string) string {
	return strings.ToLower(strings.TrimSpace(exchange))
}
