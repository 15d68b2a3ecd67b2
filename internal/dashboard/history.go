package dashboard

import (
	"strings"

	"github.com/kjstillabower/skywatch/internal/models"
)

// Filter keeps records whose city, description or country contains term,
// ignoring case. Order is preserved.
func Filter(records []models.WeatherRecord, term string) []models.WeatherRecord {
	term = strings.ToLower(strings.TrimSpace(term))
	out := make([]models.WeatherRecord, 0, len(records))
	for _, r := range records {
		if term == "" ||
			strings.Contains(strings.ToLower(r.CityName), term) ||
			strings.Contains(strings.ToLower(r.Description), term) ||
			strings.Contains(strings.ToLower(r.Country), term) {
			out = append(out, r)
		}
	}
	return out
}

// Recent returns at most n leading records as a new slice.
func Recent(records []models.WeatherRecord, n int) []models.WeatherRecord {
	if n < 0 || n > len(records) {
		n = len(records)
	}
	return append([]models.WeatherRecord{}, records[:n]...)
}

func without(records []models.WeatherRecord, id string) []models.WeatherRecord {
	out := make([]models.WeatherRecord, 0, len(records))
	for _, r := range records {
		if r.ID != id {
			out = append(out, r)
		}
	}
	return out
}
