package telemetry

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactSecretKeys(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"api_key", "api_key"},
		{"apikey", "apikey"},
		{"api-key", "api-key"},
		{"uppercase", "API_KEY"},
		{"token", "access_token"},
		{"authorization", "Authorization"},
		{"password", "password"},
		{"secret", "client_secret"},
		{"embedded", "provider_api_key hint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Redact(map[string]any{tt.key: "sensitive-value"})
			assert.Equal(t, "[REDACTED]", out[tt.key])
		})
	}
}

func TestRedactEmailKeys(t *testing.T) {
	out := Redact(map[string]any{
		"customer_email": "t@example.com",
		"Email":          "t@example.com",
		"email_address":  "other@example.com",
	})

	hexPattern := regexp.MustCompile(`^[0-9a-f]{8}$`)
	for _, key := range []string{"customer_email", "Email", "email_address"} {
		s, ok := out[key].(string)
		require.True(t, ok, "%s should be a string", key)
		assert.Regexp(t, hexPattern, s, "%s should be an 8-hex-char hash", key)
	}

	assert.Equal(t, out["customer_email"], out["Email"], "same address hashes identically")
	assert.NotEqual(t, out["customer_email"], out["email_address"], "different addresses differ")
	assert.Equal(t, HashEmail("t@example.com"), out["customer_email"])
}

func TestRedactSecretWinsOverEmail(t *testing.T) {
	out := Redact(map[string]any{"email_token": "abc"})
	assert.Equal(t, "[REDACTED]", out["email_token"])
}

func TestRedactLeavesArtifactsAlone(t *testing.T) {
	out := Redact(map[string]any{
		"qr_code_url":     "https://images.example.com/qr/LPA%3A1%24a.com%24AC",
		"iccid":           "89012345678901234567",
		"activation_code": "LPA:1$a.com$AC",
		"provider_name":   "airalo",
		"retry_count":     2,
	})

	assert.Equal(t, "https://images.example.com/qr/LPA%3A1%24a.com%24AC", out["qr_code_url"])
	assert.Equal(t, "89012345678901234567", out["iccid"])
	assert.Equal(t, "LPA:1$a.com$AC", out["activation_code"])
	assert.Equal(t, "airalo", out["provider_name"])
	assert.Equal(t, 2, out["retry_count"])
}

func TestRedactRecursesNestedStructures(t *testing.T) {
	out := Redact(map[string]any{
		"request_payload": map[string]any{
			"api_key": "k",
			"order": map[string]any{
				"contact_email": "t@example.com",
				"sku":           "japan-7d-1g",
			},
		},
		"attempts": []any{
			map[string]any{"token": "a", "status": 500},
			map[string]any{"token": "b", "status": 429},
		},
	})

	payload := out["request_payload"].(map[string]any)
	assert.Equal(t, "[REDACTED]", payload["api_key"])

	order := payload["order"].(map[string]any)
	assert.Equal(t, HashEmail("t@example.com"), order["contact_email"])
	assert.Equal(t, "japan-7d-1g", order["sku"])

	attempts := out["attempts"].([]any)
	require.Len(t, attempts, 2)
	for _, a := range attempts {
		assert.Equal(t, "[REDACTED]", a.(map[string]any)["token"])
	}
	assert.Equal(t, 500, attempts[0].(map[string]any)["status"])
}

func TestRedactDoesNotMutateInput(t *testing.T) {
	nested := map[string]any{"api_key": "k", "customer_email": "t@example.com"}
	input := map[string]any{
		"metadata": nested,
		"token":    "top-secret",
	}

	_ = Redact(input)

	assert.Equal(t, "top-secret", input["token"])
	assert.Equal(t, "k", nested["api_key"])
	assert.Equal(t, "t@example.com", nested["customer_email"])
}

func TestRedactNonStringEmailValue(t *testing.T) {
	out := Redact(map[string]any{"email_count": 3})
	assert.Equal(t, 3, out["email_count"])
}

func TestRedactNil(t *testing.T) {
	assert.Nil(t, Redact(nil))
}

func TestHashEmailStable(t *testing.T) {
	a := HashEmail("t@example.com")
	b := HashEmail("t@example.com")
	assert.Equal(t, a, b)
	assert.Len(t, a, 8)
}
