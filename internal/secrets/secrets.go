package secrets

import (
	"fmt"
	"os"
	"strings"
)

// Lookup resolves a credential from KEY_FILE (docker/k8s secret mount) or KEY.
// The boolean reports whether any source provided a non-empty value.
func Lookup(envKey string) (string, bool, error) {
	if filePath := os.Getenv(envKey + "_FILE"); filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return "", false, fmt.Errorf("read secret file %s: %w", filePath, err)
		}
		value := strings.TrimSpace(string(data))
		return value, value != "", nil
	}

	if value := os.Getenv(envKey); value != "" {
		return value, true, nil
	}

	return "", false, nil
}

// Get returns the secret for envKey or defaultValue when nothing is set.
// A secret file that cannot be read is an error rather than a silent fallback.
func Get(envKey, defaultValue string) (string, error) {
	value, ok, err := Lookup(envKey)
	if err != nil {
		return "", err
	}
	if !ok {
		return defaultValue, nil
	}
	return value, nil
}

// GetOptional never fails; unreadable secret files degrade to defaultValue.
func GetOptional(envKey, defaultValue string) string {
	value, err := Get(envKey, defaultValue)
	if err != nil {
		return defaultValue
	}
	return value
}

// GetList reads a comma separated secret (e.g. several webhook URLs).
func GetList(envKey string) []string {
	raw := GetOptional(envKey, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
