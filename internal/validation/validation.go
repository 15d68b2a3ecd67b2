package validation

import (
	"errors"
	"strings"
	"unicode"
)

// ErrLocationEmpty is returned when city or country is empty or whitespace-only after trim.
var ErrLocationEmpty = errors.New("Please provide both city and country")

// ErrLocationTooLong is returned when a location field exceeds the maximum.
var ErrLocationTooLong = errors.New("location too long")

// ErrLocationInvalidChars is returned when a location field contains control characters.
var ErrLocationInvalidChars = errors.New("location contains invalid characters")

// ErrCredentialsEmpty is returned when email or password is missing.
var ErrCredentialsEmpty = errors.New("Email and password are required")

// MaxLocationLen bounds city and country names in runes.
const MaxLocationLen = 100

// ValidateLocation trims city and country and checks both are present, at most
// MaxLocationLen runes, and free of control characters. Anything else is left
// for the server to judge. It returns the trimmed values.
func ValidateLocation(city, country string) (string, string, error) {
	city = strings.TrimSpace(city)
	country = strings.TrimSpace(country)
	if city == "" || country == "" {
		return "", "", ErrLocationEmpty
	}
	for _, s := range []string{city, country} {
		if err := checkLocationField(s); err != nil {
			return "", "", err
		}
	}
	return city, country, nil
}

// ValidateCity trims a single city name for lookups by name.
func ValidateCity(city string) (string, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return "", errors.New("City name is required")
	}
	if err := checkLocationField(city); err != nil {
		return "", err
	}
	return city, nil
}

// ValidateCredentials checks that email and password are non-empty. The email
// is trimmed; the password is passed through as typed.
func ValidateCredentials(email, password string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return "", ErrCredentialsEmpty
	}
	return email, nil
}

func checkLocationField(s string) error {
	r := []rune(s)
	if len(r) > MaxLocationLen {
		return ErrLocationTooLong
	}
	for _, c := range r {
		if unicode.IsControl(c) {
			return ErrLocationInvalidChars
		}
	}
	return nil
}
