package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/skywatch/internal/models"
	"github.com/kjstillabower/skywatch/internal/session"
	"github.com/kjstillabower/skywatch/internal/testhelpers"
)

type countingOutcomes struct {
	success atomic.Int64
	errors  atomic.Int64
}

func (c *countingOutcomes) RecordSuccess() { c.success.Add(1) }
func (c *countingOutcomes) RecordError()   { c.errors.Add(1) }

func newTestClient(t *testing.T, baseURL string, backend session.Backend) (*Client, *session.Store) {
	t.Helper()
	if backend == nil {
		backend = session.NewMemoryBackend()
	}
	store, err := session.New(backend, "")
	if err != nil {
		t.Fatalf("session.New() error = %v", err)
	}
	c, err := New(baseURL, store, Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c, store
}

func loggedIn(t *testing.T) (*Client, *testhelpers.FakeAPI) {
	t.Helper()
	fake := testhelpers.NewFakeAPI(t)
	fake.AddUser("a@b.com", "secret1")
	c, _ := newTestClient(t, fake.URL(), nil)
	if _, err := c.Login(context.Background(), models.Credentials{Email: "a@b.com", Password: "secret1"}); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	return c, fake
}

func TestNew_Validation(t *testing.T) {
	store, _ := session.New(session.NewMemoryBackend(), "")
	tests := []struct {
		name    string
		baseURL string
		store   *session.Store
	}{
		{"empty url", "", store},
		{"relative url", "localhost:3000", store},
		{"nil store", "http://localhost:3000", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.baseURL, tt.store, Options{})
			if err == nil {
				t.Fatal("New() expected error, got nil")
			}
			if c != nil {
				t.Error("New() expected nil client on error")
			}
		})
	}
}

func TestClient_LoginStoresTokenAndAuthorizesLaterCalls(t *testing.T) {
	fake := testhelpers.NewFakeAPI(t)
	fake.AddUser("a@b.com", "secret1")
	backend := session.NewMemoryBackend()
	c, store := newTestClient(t, fake.URL(), backend)
	ctx := context.Background()

	res, err := c.Login(ctx, models.Credentials{Email: "a@b.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if tok, ok := store.Token(); !ok || tok != res.Token {
		t.Fatalf("store token = %q, want %q", tok, res.Token)
	}

	if _, err := c.ListWeather(ctx); err != nil {
		t.Fatalf("ListWeather() error = %v", err)
	}
	last := fake.LastRequest()
	if len(last.Authorization) != 1 || last.Authorization[0] != "Bearer "+res.Token {
		t.Errorf("Authorization = %v, want exactly [Bearer %s]", last.Authorization, res.Token)
	}

	// simulated reload: a new store over the same backend keeps authorizing
	reloaded, _ := newTestClient(t, fake.URL(), backend)
	if _, err := reloaded.ListWeather(ctx); err != nil {
		t.Fatalf("ListWeather() after reload error = %v", err)
	}
	if got := fake.LastRequest().Authorization; len(got) != 1 || got[0] != "Bearer "+res.Token {
		t.Errorf("Authorization after reload = %v", got)
	}
}

func TestClient_LoginWithFixedToken(t *testing.T) {
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/login":
			body, _ := io.ReadAll(r.Body)
			gotBody = string(body)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"token":"T1"}`))
		default:
			if r.Header.Get("Authorization") != "Bearer T1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(`[]`))
		}
	}))
	defer server.Close()

	c, _ := newTestClient(t, server.URL, nil)
	ctx := context.Background()
	if _, err := c.Login(ctx, models.Credentials{Email: "a@b.com", Password: "x"}); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if !strings.Contains(gotBody, `"email":"a@b.com"`) || !strings.Contains(gotBody, `"password":"x"`) {
		t.Errorf("login body = %s", gotBody)
	}
	records, err := c.ListWeather(ctx)
	if err != nil {
		t.Fatalf("ListWeather() error = %v", err)
	}
	if records == nil || len(records) != 0 {
		t.Errorf("ListWeather() = %v, want empty non-nil slice", records)
	}
}

func TestClient_LoginEmptyTokenLeavesSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"token":""}`))
	}))
	defer server.Close()

	c, store := newTestClient(t, server.URL, nil)
	_ = store.SetToken("OLD")
	_, err := c.Login(context.Background(), models.Credentials{Email: "a@b.com", Password: "x"})
	if KindOf(err) != KindUnknown {
		t.Fatalf("Login() kind = %q, want unknown (err %v)", KindOf(err), err)
	}
	if tok, _ := store.Token(); tok != "OLD" {
		t.Errorf("token = %q, want OLD unchanged", tok)
	}
}

func TestClient_InvalidLogin(t *testing.T) {
	fake := testhelpers.NewFakeAPI(t)
	fake.AddUser("a@b.com", "secret1")
	c, store := newTestClient(t, fake.URL(), nil)

	_, err := c.Login(context.Background(), models.Credentials{Email: "a@b.com", Password: "wrong"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Login() error = %v, want ErrUnauthorized", err)
	}
	if err.Error() != "Invalid credentials" {
		t.Errorf("message = %q, want server message", err.Error())
	}
	if store.Authenticated() {
		t.Error("failed login must not store a token")
	}
}

func TestClient_NoAuthorizationHeaderWithoutToken(t *testing.T) {
	fake := testhelpers.NewFakeAPI(t)
	c, _ := newTestClient(t, fake.URL(), nil)

	_, err := c.ListWeather(context.Background())
	if KindOf(err) != KindAuthorization {
		t.Fatalf("ListWeather() kind = %q, want authorization", KindOf(err))
	}
	last := fake.LastRequest()
	if len(last.Authorization) != 0 {
		t.Errorf("Authorization header present without credential: %v", last.Authorization)
	}
	if last.ContentType != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", last.ContentType)
	}
	if last.CorrelationID == "" {
		t.Error("X-Correlation-ID should be set")
	}
}

func TestClient_ExpiredTokenSurfacesAuthorization(t *testing.T) {
	fake := testhelpers.NewFakeAPI(t)
	c, store := newTestClient(t, fake.URL(), nil)
	_ = store.SetToken(fake.ExpiredToken("a@b.com"))

	_, err := c.ListWeather(context.Background())
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("ListWeather() error = %v, want ErrUnauthorized", err)
	}
	if !store.Authenticated() {
		t.Error("store must not drop a rejected token on its own")
	}
}

func TestClient_Register(t *testing.T) {
	fake := testhelpers.NewFakeAPI(t)
	c, store := newTestClient(t, fake.URL(), nil)
	ctx := context.Background()

	if err := c.Register(ctx, models.Credentials{Email: "new@b.com", Password: "secret1"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if store.Authenticated() {
		t.Error("Register() must not log in")
	}

	err := c.Register(ctx, models.Credentials{Email: "new@b.com", Password: "secret1"})
	if KindOf(err) != KindValidation || StatusOf(err) != http.StatusConflict {
		t.Errorf("duplicate Register() = %v (kind %q, status %d), want validation/409", err, KindOf(err), StatusOf(err))
	}

	err = c.Register(ctx, models.Credentials{Email: "bad", Password: "1"})
	if err == nil || err.Error() != "email must be an email; password must be longer than or equal to 6 characters" {
		t.Errorf("Register() message = %v, want joined validation messages", err)
	}
}

func TestClient_CreateThenList(t *testing.T) {
	c, _ := loggedIn(t)
	ctx := context.Background()

	rec, err := c.CreateWeather(ctx, models.WeatherCreateRequest{CityName: "London", Country: "UK"})
	if err != nil {
		t.Fatalf("CreateWeather() error = %v", err)
	}
	if rec.CityName != "London" || rec.Country != "UK" {
		t.Errorf("record = %s/%s, want London/UK", rec.CityName, rec.Country)
	}
	if rec.ID == "" || rec.FetchedAt.IsZero() {
		t.Errorf("record missing id or fetchedAt: %+v", rec)
	}

	list, err := c.ListWeather(ctx)
	if err != nil {
		t.Fatalf("ListWeather() error = %v", err)
	}
	if len(list) != 1 || list[0].ID != rec.ID {
		t.Errorf("ListWeather() = %+v, want the created record", list)
	}
}

func TestClient_UpdateRefreshesRecord(t *testing.T) {
	c, _ := loggedIn(t)
	ctx := context.Background()
	rec, _ := c.CreateWeather(ctx, models.WeatherCreateRequest{CityName: "London", Country: "UK"})

	updated, err := c.UpdateWeather(ctx, rec.ID, models.WeatherCreateRequest{CityName: "Paris", Country: "FR"})
	if err != nil {
		t.Fatalf("UpdateWeather() error = %v", err)
	}
	if updated.ID != rec.ID {
		t.Errorf("ID = %q, want %q", updated.ID, rec.ID)
	}
	if updated.CityName != "Paris" || updated.Country != "FR" {
		t.Errorf("record = %s/%s, want Paris/FR", updated.CityName, updated.Country)
	}
	if updated.FetchedAt.Equal(rec.FetchedAt) {
		t.Error("fetchedAt should change after a refresh")
	}

	got, err := c.GetWeatherByID(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetWeatherByID() error = %v", err)
	}
	if got.CityName != "Paris" {
		t.Errorf("GetWeatherByID() city = %q, want Paris", got.CityName)
	}
}

func TestClient_DeleteTwice(t *testing.T) {
	c, _ := loggedIn(t)
	ctx := context.Background()
	rec, _ := c.CreateWeather(ctx, models.WeatherCreateRequest{CityName: "London", Country: "UK"})

	if err := c.DeleteWeather(ctx, rec.ID); err != nil {
		t.Fatalf("DeleteWeather() error = %v", err)
	}
	err := c.DeleteWeather(ctx, rec.ID)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("second DeleteWeather() error = %v, want ErrNotFound", err)
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("message = %q, want not-found flavored", err.Error())
	}
}

func TestClient_GetLatestByCity(t *testing.T) {
	c, fake := loggedIn(t)
	ctx := context.Background()
	_, _ = c.CreateWeather(ctx, models.WeatherCreateRequest{CityName: "São Paulo", Country: "BR"})
	second, _ := c.CreateWeather(ctx, models.WeatherCreateRequest{CityName: "São Paulo", Country: "BR"})

	got, err := c.GetLatestByCity(ctx, "São Paulo")
	if err != nil {
		t.Fatalf("GetLatestByCity() error = %v", err)
	}
	if got.ID != second.ID {
		t.Errorf("GetLatestByCity() = %s, want newest %s", got.ID, second.ID)
	}
	if p := fake.LastRequest().Path; p != "/weather/latest/São Paulo" {
		t.Errorf("path = %q", p)
	}

	_, err = c.GetLatestByCity(ctx, "Nowhere")
	if KindOf(err) != KindNotFound {
		t.Errorf("GetLatestByCity(Nowhere) kind = %q, want not_found", KindOf(err))
	}
}

func TestClient_UnknownCityOnCreate(t *testing.T) {
	c, _ := loggedIn(t)
	_, err := c.CreateWeather(context.Background(), models.WeatherCreateRequest{CityName: "Atlantis", Country: "XX"})
	if KindOf(err) != KindNotFound {
		t.Fatalf("CreateWeather(Atlantis) kind = %q, want not_found", KindOf(err))
	}
}

func TestClient_EmptyIDRejectedLocally(t *testing.T) {
	c, fake := loggedIn(t)
	before := len(fake.Requests())
	ctx := context.Background()

	if _, err := c.GetWeatherByID(ctx, " "); KindOf(err) != KindValidation {
		t.Errorf("GetWeatherByID(\"\") kind = %q, want validation", KindOf(err))
	}
	if err := c.DeleteWeather(ctx, ""); KindOf(err) != KindValidation {
		t.Errorf("DeleteWeather(\"\") kind = %q, want validation", KindOf(err))
	}
	if _, err := c.UpdateWeather(ctx, "", models.WeatherCreateRequest{}); KindOf(err) != KindValidation {
		t.Errorf("UpdateWeather(\"\") kind = %q, want validation", KindOf(err))
	}
	if _, err := c.GetLatestByCity(ctx, ""); KindOf(err) != KindValidation {
		t.Errorf("GetLatestByCity(\"\") kind = %q, want validation", KindOf(err))
	}
	if after := len(fake.Requests()); after != before {
		t.Errorf("requests sent = %d, want none", after-before)
	}
}

func TestClient_ErrorBodies(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantMsg  string
		wantKind Kind
	}{
		{"message field", http.StatusBadRequest, `{"message":"cityName should not be empty"}`, "cityName should not be empty", KindValidation},
		{"non-json body", http.StatusBadGateway, `<html>bad gateway</html>`, "Request failed: 502", KindUnknown},
		{"empty body", http.StatusInternalServerError, ``, "Request failed: 500", KindUnknown},
		{"json without message", http.StatusNotFound, `{"detail":"x"}`, "Request failed: 404", KindNotFound},
		{"nested error", http.StatusForbidden, `{"error":{"code":"FORBIDDEN","message":"nope"}}`, "nope", KindAuthorization},
		{"error string", http.StatusUnprocessableEntity, `{"error":"bad input"}`, "bad input", KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, fake := loggedIn(t)
			fake.FailNext(tt.status, tt.body)

			_, err := c.ListWeather(context.Background())
			if err == nil {
				t.Fatal("ListWeather() expected error")
			}
			if err.Error() != tt.wantMsg {
				t.Errorf("message = %q, want %q", err.Error(), tt.wantMsg)
			}
			if KindOf(err) != tt.wantKind {
				t.Errorf("kind = %q, want %q", KindOf(err), tt.wantKind)
			}
			if StatusOf(err) != tt.status {
				t.Errorf("status = %d, want %d", StatusOf(err), tt.status)
			}
		})
	}
}

func TestClient_NoContentSkipsParsing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()
	c, _ := newTestClient(t, server.URL, nil)

	rec, err := c.GetWeatherByID(context.Background(), "abc")
	if err != nil {
		t.Fatalf("GetWeatherByID() on 204 error = %v", err)
	}
	if rec != (models.WeatherRecord{}) {
		t.Errorf("record = %+v, want zero value", rec)
	}
	list, err := c.ListWeather(context.Background())
	if err != nil || list == nil || len(list) != 0 {
		t.Errorf("ListWeather() on 204 = (%v, %v), want empty slice", list, err)
	}
}

func TestClient_MalformedSuccessBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":`))
	}))
	defer server.Close()
	c, _ := newTestClient(t, server.URL, nil)

	_, err := c.GetWeatherByID(context.Background(), "abc")
	if KindOf(err) != KindUnknown {
		t.Fatalf("kind = %q, want unknown", KindOf(err))
	}
	if !strings.Contains(err.Error(), "Malformed response body") {
		t.Errorf("message = %q", err.Error())
	}
}

func TestClient_NetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	c, _ := newTestClient(t, url, nil)
	_, err := c.ListWeather(context.Background())
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("ListWeather() error = %v, want ErrNetwork", err)
	}
	if StatusOf(err) != 0 {
		t.Errorf("status = %d, want 0", StatusOf(err))
	}
}

func TestClient_NoRetry(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()
	c, _ := newTestClient(t, server.URL, nil)

	_, _ = c.ListWeather(context.Background())
	if n := calls.Load(); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}

func TestClient_BaseURLPathPrefix(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()
	c, _ := newTestClient(t, server.URL+"/api/", nil)

	if _, err := c.ListWeather(context.Background()); err != nil {
		t.Fatalf("ListWeather() error = %v", err)
	}
	if gotPath != "/api/weather" {
		t.Errorf("path = %q, want /api/weather", gotPath)
	}
}

func TestClient_RecordsOutcomesAndLogs(t *testing.T) {
	fake := testhelpers.NewFakeAPI(t)
	store, _ := session.New(session.NewMemoryBackend(), "")
	outcomes := &countingOutcomes{}
	core, logs := observer.New(zapcore.DebugLevel)
	c, err := New(fake.URL(), store, Options{Logger: zap.New(core), Outcomes: outcomes})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	fake.AddUser("a@b.com", "secret1")
	_, _ = c.Login(ctx, models.Credentials{Email: "a@b.com", Password: "secret1"})
	_, _ = c.GetWeatherByID(ctx, "missing")

	if outcomes.success.Load() != 1 || outcomes.errors.Load() != 1 {
		t.Errorf("outcomes = %d ok / %d err, want 1/1", outcomes.success.Load(), outcomes.errors.Load())
	}
	if n := logs.FilterMessage("api call failed").Len(); n != 1 {
		t.Errorf("failed call logs = %d, want 1", n)
	}
	for _, entry := range logs.All() {
		for _, f := range entry.Context {
			if strings.Contains(f.String, "secret1") {
				t.Errorf("log leaked password: %+v", entry)
			}
		}
	}
}

func TestClient_Logout(t *testing.T) {
	c, _ := loggedIn(t)
	if err := c.Logout(); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if c.Session().Authenticated() {
		t.Error("Logout() should clear the session")
	}
}
