package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePassword(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		password string
		missing  []string
	}{
		{"strong", "Catalogue!2024", nil},
		{"minimum length", "Abcdefghij1!", nil},
		{"maximum length", "A" + strings.Repeat("b", 125) + "1!", nil},
		{"unicode letters", "ÅngstromPass12!", nil},
		{"symbol counts as special", "Plus+Minus123", nil},
		{"no uppercase", "catalogue!2024", []string{"uppercase"}},
		{"no digit or special", "CatalogueEntry", []string{"digit", "special"}},
		{"digits and specials only", "1234567890!@", []string{"uppercase", "lowercase"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password)
			if len(tt.missing) == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, m := range tt.missing {
				assert.Contains(t, err.Error(), m)
			}
		})
	}
}

func TestValidatePasswordLength(t *testing.T) {
	t.Parallel()
	err := ValidatePassword("Sh0rt!")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 12")

	err = ValidatePassword("A" + strings.Repeat("b", 126) + "1!")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceed 128")
}

func TestValidateUsername(t *testing.T) {
	t.Parallel()
	valid := []string{"ada", "grace_hopper", "build-bot-9", strings.Repeat("x", 30)}
	for _, u := range valid {
		assert.NoError(t, ValidateUsername(u), u)
	}

	invalid := []string{"ab", strings.Repeat("x", 31), "has space", "émile", "user@123", "_lead", "trail-"}
	for _, u := range invalid {
		assert.Error(t, ValidateUsername(u), u)
	}
}

func TestValidateEmail(t *testing.T) {
	t.Parallel()
	atLimit := strings.Repeat("a", 64) + "@" + strings.Repeat("b", 185) + ".com"
	assert.NoError(t, ValidateEmail("support@codexverse.dev"))
	assert.NoError(t, ValidateEmail(atLimit))
	assert.Error(t, ValidateEmail(atLimit+"m"))

	for _, e := range []string{"plain", "user@", "user@@example.com", "user @example.com", "user@example.com."} {
		assert.Error(t, ValidateEmail(e), e)
	}
}
