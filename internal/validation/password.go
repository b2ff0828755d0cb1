// Package validation provides input validation for requests and domain values.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"unicode"
	"unicode/utf8"
)

const (
	minPasswordLen = 12
	maxPasswordLen = 128
	minUsernameLen = 3
	maxUsernameLen = 30
	maxEmailLen    = 254
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

type charClass struct {
	name string
	has  func(rune) bool
}

var passwordClasses = []charClass{
	{"an uppercase letter", unicode.IsUpper},
	{"a lowercase letter", unicode.IsLower},
	{"a digit", unicode.IsDigit},
	{"a special character", func(r rune) bool { return unicode.IsPunct(r) || unicode.IsSymbol(r) }},
}

// ValidatePassword enforces length and character-class rules. Every failed
// rule is reported, joined into one error.
func ValidatePassword(password string) error {
	n := utf8.RuneCountInString(password)
	if n < minPasswordLen {
		return fmt.Errorf("password must be at least %d characters long", minPasswordLen)
	}
	if n > maxPasswordLen {
		return fmt.Errorf("password must not exceed %d characters", maxPasswordLen)
	}

	var errs []error
	for _, class := range passwordClasses {
		found := false
		for _, r := range password {
			if class.has(r) {
				found = true
				break
			}
		}
		if !found {
			errs = append(errs, fmt.Errorf("password must contain %s", class.name))
		}
	}
	return errors.Join(errs...)
}

func isUsernameRune(r rune) bool {
	return r < utf8.RuneSelf && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-')
}

// ValidateUsername allows ASCII letters, digits, underscore and hyphen, with
// no leading or trailing separator.
func ValidateUsername(username string) error {
	switch {
	case len(username) < minUsernameLen:
		return fmt.Errorf("username must be at least %d characters long", minUsernameLen)
	case len(username) > maxUsernameLen:
		return fmt.Errorf("username must not exceed %d characters", maxUsernameLen)
	}
	for _, r := range username {
		if !isUsernameRune(r) {
			return errors.New("username can only contain letters, numbers, underscores, and hyphens")
		}
	}
	if isSeparator(username[0]) || isSeparator(username[len(username)-1]) {
		return errors.New("username cannot start or end with underscore or hyphen")
	}
	return nil
}

func isSeparator(b byte) bool { return b == '_' || b == '-' }

// ValidateEmail checks basic email format.
func ValidateEmail(email string) error {
	if len(email) > maxEmailLen {
		return fmt.Errorf("email must not exceed %d characters", maxEmailLen)
	}
	if !emailPattern.MatchString(email) {
		return errors.New("invalid email format")
	}
	return nil
}
