package logger

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizePayload(t *testing.T) {
	t.Run("Redacts sensitive keys recursively", func(t *testing.T) {
		payload := map[string]interface{}{
			"customer":      "ACME CORP",
			"amount":        150.25,
			"Authorization": "Bearer abc",
			"nested": map[string]interface{}{
				"refresh_token": "RT1",
				"doc_number":    "INV-1001",
			},
			"lines": []interface{}{
				map[string]interface{}{"client_secret": "shh", "amount": 10},
			},
		}

		sanitized := SanitizePayload(payload).(map[string]interface{})
		assert.Equal(t, "ACME CORP", sanitized["customer"])
		assert.Equal(t, "***redacted***", sanitized["Authorization"])

		nested := sanitized["nested"].(map[string]interface{})
		assert.Equal(t, "***redacted***", nested["refresh_token"])
		assert.Equal(t, "INV-1001", nested["doc_number"])

		line := sanitized["lines"].([]interface{})[0].(map[string]interface{})
		assert.Equal(t, "***redacted***", line["client_secret"])
		assert.Equal(t, 10, line["amount"])
	})

	t.Run("Nil sensitive value becomes empty string", func(t *testing.T) {
		sanitized := SanitizePayload(map[string]interface{}{"token": nil}).(map[string]interface{})
		assert.Equal(t, "", sanitized["token"])
	})

	t.Run("Original payload untouched", func(t *testing.T) {
		payload := map[string]interface{}{"password": "p"}
		_ = SanitizePayload(payload)
		assert.Equal(t, "p", payload["password"])
	})

	t.Run("Scalars pass through", func(t *testing.T) {
		assert.Equal(t, "plain", SanitizePayload("plain"))
		assert.Equal(t, 42, SanitizePayload(42))
	})
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 400))
	long := strings.Repeat("x", 500)
	truncated := Truncate(long, 400)
	assert.Len(t, truncated, 403)
	assert.True(t, strings.HasSuffix(truncated, "..."))
}
