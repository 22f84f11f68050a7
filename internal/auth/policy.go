package auth

import (
	"errors"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
)

var (
	usernameRegex = regexp.MustCompile(`^[a-z0-9_]{3,32}$`)
	upperRegex    = regexp.MustCompile(`[A-Z]`)
	lowerRegex    = regexp.MustCompile(`[a-z]`)
	digitRegex    = regexp.MustCompile(`[0-9]`)
	symbolRegex   = regexp.MustCompile(`[!@#$%^&*]`)
)

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func validateUsername(username string) error {
	return validation.Validate(username,
		validation.Required.Error("username is required"),
		validation.Match(usernameRegex).Error("username must be 3-32 characters of a-z, 0-9 or _"),
	)
}

// Validate checks password against the policy and returns the first rule
// that fails, with a message safe to show to the registering user.
func (p PasswordPolicy) Validate(password string) error {
	rules := []validation.Rule{
		validation.Required.Error("password is required"),
		validation.By(maxBytes(MaxPasswordBytes)),
		validation.RuneLength(p.MinLength, 0).Error("password is too short"),
	}
	if p.RequireUpper {
		rules = append(rules, validation.Match(upperRegex).Error("password must contain an uppercase letter"))
	}
	if p.RequireLower {
		rules = append(rules, validation.Match(lowerRegex).Error("password must contain a lowercase letter"))
	}
	if p.RequireDigit {
		rules = append(rules, validation.Match(digitRegex).Error("password must contain a digit"))
	}
	if p.RequireSymbol {
		rules = append(rules, validation.Match(symbolRegex).Error("password must contain one of !@#$%^&*"))
	}

	return validation.Validate(password, rules...)
}

func maxBytes(limit int) validation.RuleFunc {
	return func(value interface{}) error {
		s, _ := value.(string)
		if len(s) > limit {
			return errors.New("password is too long")
		}
		return nil
	}
}
