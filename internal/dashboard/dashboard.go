// Package dashboard composes client calls into the flows a user drives:
// signing in, tracking a city, browsing and editing history.
package dashboard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/skywatch/internal/client"
	"github.com/kjstillabower/skywatch/internal/models"
	"github.com/kjstillabower/skywatch/internal/session"
	"github.com/kjstillabower/skywatch/internal/validation"
)

// DefaultRecentLimit is how many records the overview shows.
const DefaultRecentLimit = 5

// Options configures a Dashboard. The zero value is usable.
type Options struct {
	RecentLimit int
	Logger      *zap.Logger
	// Location is used for chart labels; nil means time.Local.
	Location *time.Location
}

// Dashboard is stateless apart from the session it shares with the client.
// After every mutation it re-reads from the server rather than patching
// local copies, except Remove which filters the caller's list.
type Dashboard struct {
	api         client.WeatherAPI
	session     *session.Store
	recentLimit int
	logger      *zap.Logger
	loc         *time.Location
}

// Overview is the landing view: the most recent records and their trend.
type Overview struct {
	Recent []models.WeatherRecord `json:"recent"`
	Trend  []models.TrendPoint    `json:"trend"`
}

// TrackResult carries the created record and the refreshed overview.
type TrackResult struct {
	Record   models.WeatherRecord `json:"record"`
	Overview Overview             `json:"overview"`
}

// SessionStatus describes the held credential. Token details are decoded
// without verification and are empty for opaque tokens.
type SessionStatus struct {
	Authenticated bool       `json:"authenticated"`
	Subject       string     `json:"subject,omitempty"`
	Email         string     `json:"email,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	Expired       bool       `json:"expired"`
}

func New(api client.WeatherAPI, store *session.Store, opts Options) (*Dashboard, error) {
	if api == nil {
		return nil, fmt.Errorf("dashboard: api is nil")
	}
	if store == nil {
		return nil, fmt.Errorf("dashboard: session store is nil")
	}
	limit := opts.RecentLimit
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	return &Dashboard{api: api, session: store, recentLimit: limit, logger: logger, loc: loc}, nil
}

// Login signs in and holds the returned credential.
func (d *Dashboard) Login(ctx context.Context, email, password string) error {
	email, err := validation.ValidateCredentials(email, password)
	if err != nil {
		return invalid("login", err)
	}
	if _, err := d.api.Login(ctx, models.Credentials{Email: email, Password: password}); err != nil {
		return err
	}
	d.logger.Debug("logged in", zap.String("email", email))
	return nil
}

// Register creates an account. The user still has to log in afterwards.
func (d *Dashboard) Register(ctx context.Context, email, password string) error {
	email, err := validation.ValidateCredentials(email, password)
	if err != nil {
		return invalid("register", err)
	}
	if err := d.api.Register(ctx, models.Credentials{Email: email, Password: password}); err != nil {
		return err
	}
	d.logger.Debug("registered", zap.String("email", email))
	return nil
}

func (d *Dashboard) Logout() error {
	if err := d.api.Logout(); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// Status reports whether a credential is held and what it claims about itself.
func (d *Dashboard) Status(now time.Time) SessionStatus {
	token, ok := d.session.Token()
	if !ok {
		return SessionStatus{}
	}
	st := SessionStatus{Authenticated: true}
	info, err := session.Describe(token)
	if err != nil {
		return st
	}
	st.Subject = info.Subject
	st.Email = info.Email
	if !info.ExpiresAt.IsZero() {
		exp := info.ExpiresAt
		st.ExpiresAt = &exp
	}
	st.Expired = info.Expired(now)
	return st
}

// Track records current weather for a city and returns the refreshed
// overview. If the refresh fails the created record is still returned.
func (d *Dashboard) Track(ctx context.Context, city, country string) (TrackResult, error) {
	city, country, err := validation.ValidateLocation(city, country)
	if err != nil {
		return TrackResult{}, invalid("track", err)
	}
	rec, err := d.api.CreateWeather(ctx, models.WeatherCreateRequest{CityName: city, Country: country})
	if err != nil {
		return TrackResult{}, err
	}
	res := TrackResult{Record: rec}
	overview, err := d.Overview(ctx)
	if err != nil {
		d.logger.Warn("refresh after track failed", zap.String("id", rec.ID), zap.Error(err))
		return res, fmt.Errorf("refresh overview: %w", err)
	}
	res.Overview = overview
	return res, nil
}

// Overview lists records and keeps the first RecentLimit, newest first.
func (d *Dashboard) Overview(ctx context.Context) (Overview, error) {
	records, err := d.api.ListWeather(ctx)
	if err != nil {
		return Overview{}, err
	}
	recent := Recent(records, d.recentLimit)
	return Overview{Recent: recent, Trend: TrendPointsIn(recent, d.loc)}, nil
}

// History returns every record matching term; an empty term matches all.
func (d *Dashboard) History(ctx context.Context, term string) ([]models.WeatherRecord, error) {
	records, err := d.api.ListWeather(ctx)
	if err != nil {
		return nil, err
	}
	return Filter(records, term), nil
}

// Edit points a record at a new location, which makes the server fetch fresh
// weather, then returns the full re-read list.
func (d *Dashboard) Edit(ctx context.Context, id, city, country string) ([]models.WeatherRecord, error) {
	city, country, err := validation.ValidateLocation(city, country)
	if err != nil {
		return nil, invalid("edit", err)
	}
	if _, err := d.api.UpdateWeather(ctx, id, models.WeatherCreateRequest{CityName: city, Country: country}); err != nil {
		return nil, err
	}
	return d.api.ListWeather(ctx)
}

// Remove deletes a record and returns current without it. current is not modified.
func (d *Dashboard) Remove(ctx context.Context, id string, current []models.WeatherRecord) ([]models.WeatherRecord, error) {
	if err := d.api.DeleteWeather(ctx, id); err != nil {
		return nil, err
	}
	return without(current, id), nil
}

func (d *Dashboard) Latest(ctx context.Context, city string) (models.WeatherRecord, error) {
	city, err := validation.ValidateCity(city)
	if err != nil {
		return models.WeatherRecord{}, invalid("latest", err)
	}
	return d.api.GetLatestByCity(ctx, city)
}

func (d *Dashboard) Get(ctx context.Context, id string) (models.WeatherRecord, error) {
	return d.api.GetWeatherByID(ctx, strings.TrimSpace(id))
}

// invalid tags local input failures like server-side validation errors so
// callers handle both the same way.
func invalid(op string, err error) error {
	return &client.Error{Op: op, Kind: client.KindValidation, Message: err.Error(), Err: err}
}
