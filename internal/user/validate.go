package user

import (
	"fmt"
	"unicode/utf8"
)

// Input limits for account fields.
const (
	MaxUsernameLen    = 30
	MaxPasswordLen    = 128
	MaxDisplayNameLen = 60
)

func validateString(value, fieldName string, maxLen int) error {
	if !utf8.ValidString(value) {
		return fmt.Errorf("%s contains invalid UTF-8", fieldName)
	}
	if utf8.RuneCountInString(value) > maxLen {
		return fmt.Errorf("%s too long (max %d characters)", fieldName, maxLen)
	}
	return nil
}

// ValidateUsername checks username requirements.
func ValidateUsername(username string) error {
	if err := validateString(username, "username", MaxUsernameLen); err != nil {
		return err
	}
	if len(username) < 2 {
		return fmt.Errorf("username too short (minimum 2 characters)")
	}
	for _, r := range username {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '_' || r == '-') {
			return fmt.Errorf("username contains invalid characters (use letters, numbers, _ or -)")
		}
	}
	return nil
}

// ValidatePassword checks password requirements.
func ValidatePassword(password string) error {
	if err := validateString(password, "password", MaxPasswordLen); err != nil {
		return err
	}
	if len(password) < 6 {
		return fmt.Errorf("password too short (minimum 6 characters)")
	}
	return nil
}

// ValidateDisplayName checks the optional display name.
func ValidateDisplayName(name string) error {
	if err := validateString(name, "display name", MaxDisplayNameLen); err != nil {
		return err
	}
	for _, r := range name {
		if r < 32 || r == 127 {
			return fmt.Errorf("display name contains control characters")
		}
	}
	return nil
}
