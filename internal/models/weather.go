package models

import "time"

// WeatherRecord is a stored weather sample owned by the remote service.
// The client only ever holds transient copies.
type WeatherRecord struct {
	ID          string    `json:"id"`
	CityName    string    `json:"cityName"`
	Country     string    `json:"country"`
	Temperature float64   `json:"temperature"`
	Description string    `json:"description"`
	Humidity    float64   `json:"humidity"`
	WindSpeed   float64   `json:"windSpeed"`
	FetchedAt   time.Time `json:"fetchedAt"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// WeatherCreateRequest is the only client input needed to create or refresh a record.
type WeatherCreateRequest struct {
	CityName string `json:"cityName"`
	Country  string `json:"country"`
}

// Credentials are sent once per login or register call and never persisted.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token string `json:"token"`
}

// TrendPoint is one sample on the temperature trend chart.
type TrendPoint struct {
	Label       string  `json:"label"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
}
