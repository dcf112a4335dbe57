package security

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strings"
)

const (
	// MinSecretLength is the recommended minimum length for webhook secrets.
	MinSecretLength = 32

	// MinEntropy is the minimum Shannon entropy threshold for secrets.
	MinEntropy = 3.5
)

var placeholderSecrets = []string{
	"replace",
	"changeme",
	"your-secret",
	"your_webhook_secret",
	"topsecret",
	"password",
	"example",
}

// ValidateSecret reports every way in which a webhook secret is weak.
// The returned error joins all findings; nil means the secret looks strong.
func ValidateSecret(secret string) error {
	var errs []error

	if len(secret) < MinSecretLength {
		errs = append(errs, fmt.Errorf("secret too short (minimum %d characters, got %d)", MinSecretLength, len(secret)))
	}

	lower := strings.ToLower(secret)
	for _, p := range placeholderSecrets {
		if strings.Contains(lower, p) {
			errs = append(errs, fmt.Errorf("secret appears to be a placeholder value (contains %q)", p))
			break
		}
	}

	if entropy := calculateEntropy(secret); entropy < MinEntropy {
		errs = append(errs, fmt.Errorf("secret has insufficient entropy (%.2f < %.2f)", entropy, MinEntropy))
	}

	return errors.Join(errs...)
}

// GenerateSecret creates a cryptographically secure random secret.
// Returns a 48-character base64-encoded string.
func GenerateSecret() (string, error) {
	b := make([]byte, 36)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random secret: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// calculateEntropy computes the Shannon entropy of a string.
// Returns a value between 0 (completely predictable) and ~8.
func calculateEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}

	freq := make(map[rune]int)
	for _, c := range s {
		freq[c]++
	}

	var entropy float64
	length := float64(len(s))
	for _, count := range freq {
		p := float64(count) / length
		entropy -= p * math.Log2(p)
	}

	return entropy
}

// IsWeakSecret performs a quick check if a secret is obviously weak.
func IsWeakSecret(secret string) bool {
	if len(secret) < 16 {
		return true
	}

	// All same character
	if len(strings.Trim(secret, string(secret[0]))) == 0 {
		return true
	}

	if isSequential(secret) {
		return true
	}

	return calculateEntropy(secret) < 2.5
}

// isSequential checks if a string consists mostly of sequential characters.
func isSequential(s string) bool {
	if len(s) < 4 {
		return false
	}

	sequential := 0
	for i := 1; i < len(s); i++ {
		if s[i] == s[i-1]+1 || s[i] == s[i-1]-1 {
			sequential++
		}
	}

	return float64(sequential) > float64(len(s))*0.7
}
