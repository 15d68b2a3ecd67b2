package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kjstillabower/skywatch/internal/models"
	"github.com/kjstillabower/skywatch/internal/observability"
	"github.com/kjstillabower/skywatch/internal/session"
)

// WeatherAPI is the set of remote operations consumers depend on.
type WeatherAPI interface {
	Login(ctx context.Context, creds models.Credentials) (models.AuthResponse, error)
	Register(ctx context.Context, creds models.Credentials) error
	Logout() error
	ListWeather(ctx context.Context) ([]models.WeatherRecord, error)
	CreateWeather(ctx context.Context, req models.WeatherCreateRequest) (models.WeatherRecord, error)
	UpdateWeather(ctx context.Context, id string, req models.WeatherCreateRequest) (models.WeatherRecord, error)
	GetWeatherByID(ctx context.Context, id string) (models.WeatherRecord, error)
	DeleteWeather(ctx context.Context, id string) error
	GetLatestByCity(ctx context.Context, cityName string) (models.WeatherRecord, error)
}

// OutcomeRecorder receives one call per finished request.
type OutcomeRecorder interface {
	RecordSuccess()
	RecordError()
}

// Options overrides client dependencies. The zero value is usable.
type Options struct {
	HTTPClient *http.Client
	// Timeout applies only when HTTPClient is nil; 0 means no client-side timeout.
	Timeout  time.Duration
	Logger   *zap.Logger
	Outcomes OutcomeRecorder
	// Tracer defaults to the global provider's tracer.
	Tracer trace.Tracer
}

// Client is the only channel between the application and the SkyWatch API.
// Every operation is a single exchange with no retry.
type Client struct {
	baseURL    string
	httpClient *http.Client
	session    *session.Store
	logger     *zap.Logger
	outcomes   OutcomeRecorder
	tracer     trace.Tracer
}

var _ WeatherAPI = (*Client)(nil)

func New(baseURL string, store *session.Store, opts Options) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL is empty")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse baseURL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("baseURL must be absolute, got %q", baseURL)
	}
	if store == nil {
		return nil, fmt.Errorf("session store is nil")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/kjstillabower/skywatch/internal/client")
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		session:    store,
		logger:     logger,
		outcomes:   opts.Outcomes,
		tracer:     tracer,
	}, nil
}

// Session returns the store the client reads its credential from.
func (c *Client) Session() *session.Store {
	return c.session
}

// Login exchanges credentials for a token and stores it before returning.
func (c *Client) Login(ctx context.Context, creds models.Credentials) (models.AuthResponse, error) {
	const op = "login"
	var res models.AuthResponse
	if err := c.do(ctx, op, http.MethodPost, "/auth/login", creds, &res); err != nil {
		return models.AuthResponse{}, err
	}
	if strings.TrimSpace(res.Token) == "" {
		return models.AuthResponse{}, &Error{Op: op, Kind: KindUnknown, Status: http.StatusOK, Message: "Login response did not include a token"}
	}
	if err := c.session.SetToken(res.Token); err != nil {
		return models.AuthResponse{}, fmt.Errorf("login: %w", err)
	}
	return res, nil
}

// Register creates an account. It does not log in.
func (c *Client) Register(ctx context.Context, creds models.Credentials) error {
	return c.do(ctx, "register", http.MethodPost, "/auth/register", creds, nil)
}

// Logout drops the stored credential. The server is not contacted.
func (c *Client) Logout() error {
	return c.session.Clear()
}

// ListWeather returns records in server order, newest first by convention.
func (c *Client) ListWeather(ctx context.Context) ([]models.WeatherRecord, error) {
	var records []models.WeatherRecord
	if err := c.do(ctx, "listWeather", http.MethodGet, "/weather", nil, &records); err != nil {
		return nil, err
	}
	if records == nil {
		records = []models.WeatherRecord{}
	}
	return records, nil
}

// CreateWeather asks the server to look up current weather for the location and store it.
func (c *Client) CreateWeather(ctx context.Context, req models.WeatherCreateRequest) (models.WeatherRecord, error) {
	var rec models.WeatherRecord
	if err := c.do(ctx, "createWeather", http.MethodPost, "/weather", req, &rec); err != nil {
		return models.WeatherRecord{}, err
	}
	return rec, nil
}

// UpdateWeather replaces the record's location; the server refreshes its weather data.
func (c *Client) UpdateWeather(ctx context.Context, id string, req models.WeatherCreateRequest) (models.WeatherRecord, error) {
	const op = "updateWeather"
	path, err := recordPath(op, id)
	if err != nil {
		return models.WeatherRecord{}, err
	}
	var rec models.WeatherRecord
	if err := c.do(ctx, op, http.MethodPut, path, req, &rec); err != nil {
		return models.WeatherRecord{}, err
	}
	return rec, nil
}

func (c *Client) GetWeatherByID(ctx context.Context, id string) (models.WeatherRecord, error) {
	const op = "getWeatherById"
	path, err := recordPath(op, id)
	if err != nil {
		return models.WeatherRecord{}, err
	}
	var rec models.WeatherRecord
	if err := c.do(ctx, op, http.MethodGet, path, nil, &rec); err != nil {
		return models.WeatherRecord{}, err
	}
	return rec, nil
}

// DeleteWeather removes a record. Repeating it yields a not-found error.
func (c *Client) DeleteWeather(ctx context.Context, id string) error {
	const op = "deleteWeather"
	path, err := recordPath(op, id)
	if err != nil {
		return err
	}
	return c.do(ctx, op, http.MethodDelete, path, nil, nil)
}

// GetLatestByCity returns the most recent record for cityName.
func (c *Client) GetLatestByCity(ctx context.Context, cityName string) (models.WeatherRecord, error) {
	const op = "getLatestByCity"
	cityName = strings.TrimSpace(cityName)
	if cityName == "" {
		return models.WeatherRecord{}, &Error{Op: op, Kind: KindValidation, Message: "City name is required"}
	}
	var rec models.WeatherRecord
	if err := c.do(ctx, op, http.MethodGet, "/weather/latest/"+url.PathEscape(cityName), nil, &rec); err != nil {
		return models.WeatherRecord{}, err
	}
	return rec, nil
}

func recordPath(op, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", &Error{Op: op, Kind: KindValidation, Message: "Record id is required"}
	}
	return "/weather/" + url.PathEscape(id), nil
}

// do performs one exchange: authorize, encode, send, then decode into out or
// return a tagged *Error. A 204 response leaves out untouched; a nil out
// discards any body.
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) (err error) {
	ctx, span := c.tracer.Start(ctx, op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	start := time.Now()
	corrID := uuid.New().String()
	status := 0
	defer func() {
		c.record(op, method, path, corrID, status, time.Since(start), err)
		span.SetAttributes(attribute.String("http.method", method), attribute.Int("http.status_code", status))
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	req, err := c.buildRequest(ctx, method, path, in)
	if err != nil {
		return &Error{Op: op, Kind: KindUnknown, Message: fmt.Sprintf("build request: %v", err), Err: err}
	}
	req.Header.Set("X-Correlation-ID", corrID)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Op: op, Kind: KindNetwork, Message: fmt.Sprintf("Network error: %v", err), Err: err}
	}
	defer resp.Body.Close()
	status = resp.StatusCode

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return &Error{Op: op, Kind: kindForStatus(resp.StatusCode), Status: resp.StatusCode, Message: errorMessage(body, resp.StatusCode)}
	}
	if resp.StatusCode == http.StatusNoContent || out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Op: op, Kind: KindUnknown, Status: resp.StatusCode, Message: fmt.Sprintf("Malformed response body: %v", err), Err: err}
	}
	return nil
}

func (c *Client) buildRequest(ctx context.Context, method, path string, in any) (*http.Request, error) {
	var body io.Reader
	if in != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(in); err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		body = buf
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if token, ok := c.session.Token(); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) record(op, method, path, corrID string, status int, elapsed time.Duration, err error) {
	label := statusLabel(status)
	if status == 0 {
		label = "error"
	}
	observability.APICallsTotal.WithLabelValues(op, label).Inc()
	observability.APICallDuration.WithLabelValues(op, label).Observe(elapsed.Seconds())

	fields := []zap.Field{
		zap.String("operation", op),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", status),
		zap.Duration("duration", elapsed),
		zap.String("correlation_id", corrID),
	}
	if err != nil {
		kind := KindOf(err)
		observability.APIErrorsTotal.WithLabelValues(string(kind)).Inc()
		if c.outcomes != nil {
			c.outcomes.RecordError()
		}
		c.logger.Debug("api call failed", append(fields, zap.String("kind", string(kind)), zap.Error(err))...)
		return
	}
	if c.outcomes != nil {
		c.outcomes.RecordSuccess()
	}
	c.logger.Debug("api call", fields...)
}
