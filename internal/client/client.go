package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"floodbuddy/internal/models"
	"floodbuddy/internal/security"
	"floodbuddy/internal/session"
)

var ErrNotSignedIn = errors.New("not signed in")

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api %d %s", e.Status, e.Code)
}

type Options struct {
	BaseURL         string
	DeviceID        string
	DeviceName      string
	SignatureSecret string
	HTTPClient      *http.Client
	Clock           clockwork.Clock
	Log             zerolog.Logger
}

// Client talks to the FloodBuddy API. It is the identity service for
// session.Flow and the report store for flow.Controller.
type Client struct {
	baseURL    string
	secret     string
	deviceName string
	http       *http.Client
	clock      clockwork.Clock
	log        zerolog.Logger

	mu           sync.Mutex
	deviceID     string
	userID       string
	accessToken  string
	refreshToken string
}

func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		secret:     opts.SignatureSecret,
		deviceName: opts.DeviceName,
		deviceID:   opts.DeviceID,
		http:       httpClient,
		clock:      clock,
		log:        opts.Log.With().Str("component", "api_client").Logger(),
	}
}

// DeviceID is the id the server bound this client's session to.
func (c *Client) DeviceID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceID
}

type credentials struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	DeviceID   string `json:"deviceId,omitempty"`
	DeviceName string `json:"deviceName,omitempty"`
}

type authResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	DeviceID     string `json:"deviceId"`
	User         struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

func (c *Client) SignIn(ctx context.Context, email, password string) (session.Session, error) {
	return c.authenticate(ctx, "/api/v1/auth/login", email, password)
}

func (c *Client) Register(ctx context.Context, email, password string) (session.Session, error) {
	return c.authenticate(ctx, "/api/v1/auth/register", email, password)
}

func (c *Client) authenticate(ctx context.Context, path, email, password string) (session.Session, error) {
	body := credentials{
		Email:      email,
		Password:   password,
		DeviceID:   c.DeviceID(),
		DeviceName: c.deviceName,
	}

	var resp authResponse
	if err := c.doJSON(ctx, http.MethodPost, path, body, false, false, &resp); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			return session.Session{}, &models.AuthError{Message: apiErr.Message, Err: apiErr}
		}
		return session.Session{}, err
	}

	c.mu.Lock()
	c.deviceID = resp.DeviceID
	c.userID = resp.User.ID
	c.accessToken = resp.AccessToken
	c.refreshToken = resp.RefreshToken
	c.mu.Unlock()

	return session.Session{UserID: resp.User.ID, Email: resp.User.Email}, nil
}

// SignOut ends the device session at the server and forgets the tokens,
// even when the server call fails.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	body := map[string]string{
		"userId":       c.userID,
		"deviceId":     c.deviceID,
		"refreshToken": c.refreshToken,
	}
	signedIn := c.accessToken != ""
	c.userID, c.accessToken, c.refreshToken = "", "", ""
	c.mu.Unlock()

	if !signedIn {
		return nil
	}
	return c.doJSON(ctx, http.MethodPost, "/api/v1/auth/logout", body, false, false, nil)
}

type createReportRequest struct {
	Latitude  float64         `json:"latitude"`
	Longitude float64         `json:"longitude"`
	Severity  models.Severity `json:"severity"`
}

// Create submits one report. Validation refusals come back as the models
// sentinels; every other failure is a StoreWriteError.
func (c *Client) Create(ctx context.Context, loc models.Location, severity models.Severity) (models.Report, error) {
	var resp struct {
		Report models.Report `json:"report"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/reports", createReportRequest{
		Latitude:  loc.Latitude,
		Longitude: loc.Longitude,
		Severity:  severity,
	}, true, true, &resp)
	if err == nil {
		return resp.Report, nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case "location_unavailable":
			return models.Report{}, models.ErrLocationUnavailable
		case "invalid_severity":
			return models.Report{}, models.ErrInvalidSeverity
		case "coordinates_out_of_range":
			return models.Report{}, models.ErrCoordinatesOutOfRange
		}
	}
	return models.Report{}, &models.StoreWriteError{Err: err}
}

func (c *Client) List(ctx context.Context) ([]models.Report, error) {
	var resp struct {
		Reports []models.Report `json:"reports"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/reports", nil, true, false, &resp); err != nil {
		return nil, err
	}
	return resp.Reports, nil
}

func (c *Client) Markers(ctx context.Context) ([]models.Marker, error) {
	var resp struct {
		Markers []models.Marker `json:"markers"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/reports/markers", nil, true, false, &resp); err != nil {
		return nil, err
	}
	return resp.Markers, nil
}

func (c *Client) Severities(ctx context.Context) ([]models.SeverityInfo, error) {
	var resp struct {
		Severities []models.SeverityInfo `json:"severities"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/severities", nil, false, false, &resp); err != nil {
		return nil, err
	}
	return resp.Severities, nil
}

func (c *Client) bearer() (string, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken == "" {
		return "", "", ErrNotSignedIn
	}
	return c.accessToken, c.deviceID, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in any, auth, sign bool, out any) error {
	var raw []byte
	if in != nil {
		var err error
		raw, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if auth {
		token, deviceID, err := c.bearer()
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if sign {
			if err := security.SignRequest(req, c.secret, deviceID, raw, c.clock.Now()); err != nil {
				return err
			}
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(raw, &body) == nil {
		apiErr.Code = body.Error
		apiErr.Message = body.Message
	}
	if apiErr.Code == "" {
		apiErr.Code = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
