package utils

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatValidationError(t *testing.T) {
	t.Run("Nil error", func(t *testing.T) {
		assert.Equal(t, "", FormatValidationError(nil))
	})

	t.Run("Validation errors joined per field", func(t *testing.T) {
		type payload struct {
			Name        string `validate:"required"`
			Environment string `validate:"oneof=sandbox prod"`
		}
		err := validator.New().Struct(payload{Environment: "staging"})
		require.Error(t, err)

		message := FormatValidationError(err)
		assert.Contains(t, message, "field 'Name' is required")
		assert.Contains(t, message, "field 'Environment' must be one of: sandbox prod")
		assert.Contains(t, message, "; ")
	})

	t.Run("JSON type mismatch", func(t *testing.T) {
		var target struct {
			Amount int `json:"amount"`
		}
		err := json.Unmarshal([]byte(`{"amount":"abc"}`), &target)
		require.Error(t, err)

		assert.Equal(t, "field 'amount' should be int", FormatValidationError(err))
	})

	t.Run("JSON syntax error", func(t *testing.T) {
		var target map[string]interface{}
		err := json.Unmarshal([]byte(`{`), &target)
		require.Error(t, err)

		assert.Equal(t, "invalid JSON format", FormatValidationError(err))
	})

	t.Run("Other errors passed through", func(t *testing.T) {
		assert.Equal(t, "boom", FormatValidationError(errors.New("boom")))
	})
}
