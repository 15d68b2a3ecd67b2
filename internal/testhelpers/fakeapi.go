// Package testhelpers provides an in-process stand-in for the SkyWatch API.
package testhelpers

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"

	"github.com/kjstillabower/skywatch/internal/models"
)

// RecordedRequest is what the fake saw for one request.
type RecordedRequest struct {
	Method        string
	Path          string
	Authorization []string
	ContentType   string
	CorrelationID string
}

type storedRecord struct {
	owner  string
	record models.WeatherRecord
}

type injected struct {
	status int
	body   string
}

// FakeAPI serves the SkyWatch wire contract from memory. Tokens are HS256
// JWTs; each weather lookup advances a fake clock by one minute so refreshed
// records carry a new fetchedAt.
type FakeAPI struct {
	Server *httptest.Server

	mu       sync.Mutex
	secret   []byte
	users    map[string][]byte // email -> bcrypt hash
	userIDs  map[string]string
	records  []*storedRecord // newest first
	requests []RecordedRequest
	clock    time.Time
	unknown  map[string]bool
	failures []injected
	tokenTTL time.Duration
}

// NewFakeAPI starts a fake server that is closed when the test ends.
func NewFakeAPI(t testing.TB) *FakeAPI {
	t.Helper()
	f := &FakeAPI{
		secret:   []byte("fake-api-secret-" + uuid.NewString()),
		users:    make(map[string][]byte),
		userIDs:  make(map[string]string),
		clock:    time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC),
		unknown:  map[string]bool{"atlantis": true},
		tokenTTL: 24 * time.Hour,
	}
	f.Server = httptest.NewServer(f.Router())
	t.Cleanup(f.Server.Close)
	return f
}

// URL is the base origin of the fake.
func (f *FakeAPI) URL() string {
	return f.Server.URL
}

// Router exposes the routes for callers that want their own listener.
func (f *FakeAPI) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(f.recordAndInject)
	r.HandleFunc("/auth/register", f.register).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", f.login).Methods(http.MethodPost)

	w := r.PathPrefix("/weather").Subrouter()
	w.Use(f.requireAuth)
	w.HandleFunc("", f.listWeather).Methods(http.MethodGet)
	w.HandleFunc("", f.createWeather).Methods(http.MethodPost)
	w.HandleFunc("/latest/{cityName}", f.latestByCity).Methods(http.MethodGet)
	w.HandleFunc("/{id}", f.getWeather).Methods(http.MethodGet)
	w.HandleFunc("/{id}", f.updateWeather).Methods(http.MethodPut)
	w.HandleFunc("/{id}", f.deleteWeather).Methods(http.MethodDelete)
	return r
}

// AddUser registers a user directly.
func (f *FakeAPI) AddUser(email, password string) {
	hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[strings.ToLower(email)] = hash
	f.userIDs[strings.ToLower(email)] = uuid.NewString()
}

// IssueToken returns a valid token for email without a login round trip.
func (f *FakeAPI) IssueToken(email string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signLocked(strings.ToLower(email), f.tokenTTL)
}

// ExpiredToken returns a token the fake rejects as expired.
func (f *FakeAPI) ExpiredToken(email string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signLocked(strings.ToLower(email), -time.Hour)
}

// MarkUnknownCity makes lookups for city fail with 404.
func (f *FakeAPI) MarkUnknownCity(city string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unknown[strings.ToLower(city)] = true
}

// FailNext makes the next request answer status with a raw body.
func (f *FakeAPI) FailNext(status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, injected{status: status, body: body})
}

// Requests returns a copy of all requests seen so far.
func (f *FakeAPI) Requests() []RecordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RecordedRequest(nil), f.requests...)
}

// LastRequest returns the most recent request.
func (f *FakeAPI) LastRequest() RecordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return RecordedRequest{}
	}
	return f.requests[len(f.requests)-1]
}

func (f *FakeAPI) recordAndInject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests = append(f.requests, RecordedRequest{
			Method:        r.Method,
			Path:          r.URL.Path,
			Authorization: r.Header.Values("Authorization"),
			ContentType:   r.Header.Get("Content-Type"),
			CorrelationID: r.Header.Get("X-Correlation-ID"),
		})
		var inj *injected
		if len(f.failures) > 0 {
			inj = &f.failures[0]
			f.failures = f.failures[1:]
		}
		f.mu.Unlock()

		if inj != nil {
			w.WriteHeader(inj.status)
			_, _ = w.Write([]byte(inj.body))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type ownerKey struct{}

func (f *FakeAPI) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		tokenStr, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenStr == "" {
			writeMessage(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		claims := &jwt.RegisteredClaims{}
		_, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
			return f.secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			writeMessage(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(contextWithOwner(r, claims.Subject)))
	})
}

func (f *FakeAPI) register(w http.ResponseWriter, r *http.Request) {
	var creds models.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	var problems []string
	if !strings.Contains(creds.Email, "@") {
		problems = append(problems, "email must be an email")
	}
	if len(creds.Password) < 6 {
		problems = append(problems, "password must be longer than or equal to 6 characters")
	}
	if len(problems) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"statusCode": 400, "message": problems, "error": "Bad Request"})
		return
	}
	email := strings.ToLower(creds.Email)
	f.mu.Lock()
	_, exists := f.users[email]
	f.mu.Unlock()
	if exists {
		writeMessage(w, http.StatusConflict, "User already exists")
		return
	}
	f.AddUser(email, creds.Password)
	f.mu.Lock()
	id := f.userIDs[email]
	f.mu.Unlock()
	writeJSON(w, http.StatusCreated, map[string]string{"id": id, "email": email})
}

func (f *FakeAPI) login(w http.ResponseWriter, r *http.Request) {
	var creds models.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	email := strings.ToLower(creds.Email)
	f.mu.Lock()
	hash, ok := f.users[email]
	f.mu.Unlock()
	if !ok || bcrypt.CompareHashAndPassword(hash, []byte(creds.Password)) != nil {
		writeMessage(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	f.mu.Lock()
	token := f.signLocked(email, f.tokenTTL)
	f.mu.Unlock()
	writeJSON(w, http.StatusCreated, models.AuthResponse{Token: token})
}

func (f *FakeAPI) listWeather(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r)
	f.mu.Lock()
	out := []models.WeatherRecord{}
	for _, s := range f.records {
		if s.owner == owner {
			out = append(out, s.record)
		}
	}
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (f *FakeAPI) createWeather(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeLocation(w, r)
	if !ok {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, status, msg := f.lookupLocked(req)
	if status != 0 {
		writeMessage(w, status, msg)
		return
	}
	rec.ID = uuid.NewString()
	rec.CreatedAt = rec.FetchedAt
	rec.UpdatedAt = rec.FetchedAt
	f.records = append([]*storedRecord{{owner: ownerFrom(r), record: rec}}, f.records...)
	writeJSON(w, http.StatusCreated, rec)
}

func (f *FakeAPI) getWeather(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.findLocked(ownerFrom(r), mux.Vars(r)["id"])
	if s == nil {
		writeMessage(w, http.StatusNotFound, fmt.Sprintf("Weather record with ID %s not found", mux.Vars(r)["id"]))
		return
	}
	writeJSON(w, http.StatusOK, s.record)
}

func (f *FakeAPI) updateWeather(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeLocation(w, r)
	if !ok {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := mux.Vars(r)["id"]
	s := f.findLocked(ownerFrom(r), id)
	if s == nil {
		writeMessage(w, http.StatusNotFound, fmt.Sprintf("Weather record with ID %s not found", id))
		return
	}
	rec, status, msg := f.lookupLocked(req)
	if status != 0 {
		writeMessage(w, status, msg)
		return
	}
	rec.ID = s.record.ID
	rec.CreatedAt = s.record.CreatedAt
	rec.UpdatedAt = rec.FetchedAt
	s.record = rec
	writeJSON(w, http.StatusOK, rec)
}

func (f *FakeAPI) deleteWeather(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := mux.Vars(r)["id"]
	owner := ownerFrom(r)
	for i, s := range f.records {
		if s.owner == owner && s.record.ID == id {
			f.records = append(f.records[:i], f.records[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeMessage(w, http.StatusNotFound, fmt.Sprintf("Weather record with ID %s not found", id))
}

func (f *FakeAPI) latestByCity(w http.ResponseWriter, r *http.Request) {
	city := mux.Vars(r)["cityName"]
	owner := ownerFrom(r)
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.records {
		if s.owner == owner && strings.EqualFold(s.record.CityName, city) {
			writeJSON(w, http.StatusOK, s.record)
			return
		}
	}
	writeMessage(w, http.StatusNotFound, fmt.Sprintf("No weather data found for city %s", city))
}

func (f *FakeAPI) findLocked(owner, id string) *storedRecord {
	for _, s := range f.records {
		if s.owner == owner && s.record.ID == id {
			return s
		}
	}
	return nil
}

// lookupLocked plays the upstream provider. Values are derived from the
// city name so repeated lookups are stable apart from fetchedAt.
func (f *FakeAPI) lookupLocked(req models.WeatherCreateRequest) (models.WeatherRecord, int, string) {
	if f.unknown[strings.ToLower(req.CityName)] {
		return models.WeatherRecord{}, http.StatusNotFound, fmt.Sprintf("City %s not found", req.CityName)
	}
	f.clock = f.clock.Add(time.Minute)
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToLower(req.CityName + "," + req.Country)))
	seed := h.Sum32()
	descriptions := []string{"clear sky", "few clouds", "light rain", "overcast clouds", "mist"}
	return models.WeatherRecord{
		CityName:    req.CityName,
		Country:     req.Country,
		Temperature: float64(seed%350)/10 - 5,
		Description: descriptions[seed%uint32(len(descriptions))],
		Humidity:    float64(30 + seed%60),
		WindSpeed:   float64(seed%120) / 10,
		FetchedAt:   f.clock,
	}, 0, ""
}

func (f *FakeAPI) signLocked(email string, ttl time.Duration) string {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   f.userIDs[email],
		"email": email,
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	}
	signed, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(f.secret)
	return signed
}

func decodeLocation(w http.ResponseWriter, r *http.Request) (models.WeatherCreateRequest, bool) {
	var req models.WeatherCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid JSON body")
		return req, false
	}
	var problems []string
	if strings.TrimSpace(req.CityName) == "" {
		problems = append(problems, "cityName should not be empty")
	}
	if strings.TrimSpace(req.Country) == "" {
		problems = append(problems, "country should not be empty")
	}
	if len(problems) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"statusCode": 400, "message": problems, "error": "Bad Request"})
		return req, false
	}
	return req, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"statusCode": status, "message": message})
}
