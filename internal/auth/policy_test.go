package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPasswordPolicy(t *testing.T) {
	policy := DefaultConfig(nil).Password

	tests := []struct {
		name     string
		password string
		wantErr  string
	}{
		{name: "valid", password: "Str0ng!Pass"},
		{name: "empty", password: "", wantErr: "password is required"},
		{name: "too short", password: "S0!a", wantErr: "password is too short"},
		{name: "too long", password: "Aa1!" + strings.Repeat("x", MaxPasswordBytes), wantErr: "password is too long"},
		{name: "no upper", password: "str0ng!pass", wantErr: "uppercase"},
		{name: "no lower", password: "STR0NG!PASS", wantErr: "lowercase"},
		{name: "no digit", password: "Strong!Pass", wantErr: "digit"},
		{name: "no symbol", password: "Str0ngPass", wantErr: "one of !@#$%^&*"},
		{name: "other symbol does not count", password: "Str0ng-Pass", wantErr: "one of !@#$%^&*"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := policy.Validate(tt.password)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestPasswordPolicyRulesCanBeRelaxed(t *testing.T) {
	policy := PasswordPolicy{MinLength: 4}

	assert.NoError(t, policy.Validate("abcd"))
	assert.Error(t, policy.Validate("abc"))
}

func TestPasswordPolicyCountsRunes(t *testing.T) {
	policy := PasswordPolicy{MinLength: 8}

	assert.NoError(t, policy.Validate("日本語日本語日本"))
	assert.Error(t, policy.Validate("日本語日本語"))
}

func TestValidateUsername(t *testing.T) {
	valid := []string{"alice", "bob_99", "abc", strings.Repeat("a", 32)}
	for _, username := range valid {
		assert.NoError(t, validateUsername(username), username)
	}

	invalid := []string{"", "ab", strings.Repeat("a", 33), "Alice", "al ice", "al-ice", "alice@example.com", "ålice"}
	for _, username := range invalid {
		assert.Error(t, validateUsername(username), username)
	}
}

func TestNormalizeUsername(t *testing.T) {
	assert.Equal(t, "alice", normalizeUsername("  Alice "))
	assert.Equal(t, "bob_99", normalizeUsername("BOB_99"))
}
