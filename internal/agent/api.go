package agent

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

	"github.com/mossy-p/repsync/internal/models"
	"github.com/mossy-p/repsync/internal/results"
)

// API is a small client for the session REST endpoints.
type API struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewAPI(baseURL string, httpClient *http.Client) *API {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &API{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

type loginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

type apiError struct {
	Error string `json:"error"`
}

// Login obtains a token for username and uses it for later calls.
func (a *API) Login(ctx context.Context, username, password string) (string, error) {
	var resp loginResponse
	body := map[string]string{"username": username, "password": password}
	if err := a.do(ctx, http.MethodPost, "/api/auth/login", body, &resp); err != nil {
		return "", err
	}
	a.token = resp.Token
	return resp.Token, nil
}

func (a *API) Token() string {
	return a.token
}

func (a *API) CreateSession(ctx context.Context, req models.CreateSessionRequest) (*models.Session, error) {
	var s models.Session
	if err := a.do(ctx, http.MethodPost, "/api/sessions", req, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (a *API) JoinSession(ctx context.Context, identifier string, req models.JoinSessionRequest) (*models.Session, error) {
	var s models.Session
	if err := a.do(ctx, http.MethodPost, "/api/sessions/"+url.PathEscape(identifier)+"/join", req, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (a *API) StartSession(ctx context.Context, sessionID string) (*models.Session, error) {
	var s models.Session
	if err := a.do(ctx, http.MethodPost, "/api/sessions/"+url.PathEscape(sessionID)+"/start", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// EndSession completes the session and returns its results.
func (a *API) EndSession(ctx context.Context, sessionID string) (*results.Result, error) {
	var res results.Result
	if err := a.do(ctx, http.MethodPost, "/api/sessions/"+url.PathEscape(sessionID)+"/end", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SaveResult records a workout that ran outside a live session. The server
// records the caller as host.
func (a *API) SaveResult(ctx context.Context, res *results.Result) error {
	return a.do(ctx, http.MethodPost, "/api/workout-sessions", res, nil)
}

// ICEServers returns the STUN/TURN servers the server recommends.
func (a *API) ICEServers(ctx context.Context) ([]string, error) {
	var resp struct {
		ICEServers []string `json:"iceServers"`
	}
	if err := a.do(ctx, http.MethodGet, "/api/ice-servers", nil, &resp); err != nil {
		return nil, err
	}
	return resp.ICEServers, nil
}

// SocketURL returns the push channel address for a session.
func (a *API) SocketURL(sessionID string) (string, error) {
	u, err := url.Parse(a.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/sessions/" + url.PathEscape(sessionID)
	return u.String(), nil
}

func (a *API) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: http %d: %s", method, path, resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("%s %s: http %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
