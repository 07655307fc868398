package types

import "crypto/subtle"

const redactedPlaceholder = "***REDACTED***"

var redactedJSON = []byte(`"***REDACTED***"`)

// SecretString holds a credential (SMTP password, API key) and renders as a
// redacted placeholder through fmt and encoding/json. Use Unmask to read the
// raw value at the point it is handed to a client.
type SecretString string

// String returns the redacted placeholder.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// MarshalJSON encodes the redacted placeholder.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// Unmask returns the raw plaintext value.
func (s SecretString) Unmask() string {
	return string(s)
}

// IsZero reports whether no secret was configured.
func (s SecretString) IsZero() bool {
	return s == ""
}

// Matches compares candidate against the secret in constant time.
// An unset secret never matches.
func (s SecretString) Matches(candidate string) bool {
	if s == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(s), []byte(candidate)) == 1
}
