// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package gotrue implements identity.Service against a GoTrue (Supabase
// Auth) server.
package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"codeberg.org/oliverandrich/taxijobs/internal/identity"
	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultTimeout  = 10 * time.Second
	maxResponseSize = 1 << 20
)

// Config configures the client.
type Config struct {
	// URL is the auth base URL, e.g. https://xyz.supabase.co/auth/v1.
	URL    string
	APIKey string
	// HTTPClient defaults to a client with a 10 second timeout.
	HTTPClient *http.Client
	// Now defaults to time.Now.
	Now func() time.Time
}

// Client talks to the GoTrue REST API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	now     func() time.Time
}

var (
	_ identity.Service = (*Client)(nil)
	_ identity.PKCE    = (*Client)(nil)
)

// challengeMethod is the PKCE challenge method sent with code_challenge.
const challengeMethod = "s256"

// APIError is a non-2xx response of the auth server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gotrue: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("gotrue: %d: %s", e.Status, e.Message)
}

type errorBody struct {
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

type userResponse struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	UserMetadata struct {
		Role string `json:"role"`
	} `json:"user_metadata"`
}

type sessionResponse struct {
	AccessToken string       `json:"access_token"`
	ExpiresIn   int64        `json:"expires_in"`
	ExpiresAt   int64        `json:"expires_at"`
	User        userResponse `json:"user"`
}

// New creates a client.
func New(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid gotrue url %q", cfg.URL)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Client{
		baseURL: strings.TrimSuffix(u.String(), "/"),
		apiKey:  cfg.APIKey,
		http:    httpClient,
		now:     now,
	}, nil
}

// ExchangeRecoveryCode verifies a recovery token hash and returns the
// resulting session. This needs the recovery mail template to link with
// {{ .TokenHash }}; links carrying a PKCE auth code go through
// ExchangeAuthCode instead.
func (c *Client) ExchangeRecoveryCode(ctx context.Context, code, codeType string) (*identity.Session, error) {
	if codeType == "" {
		codeType = identity.RecoveryType
	}
	if code == "" || codeType != identity.RecoveryType {
		return nil, identity.ErrCodeInvalid
	}
	return c.verify(ctx, codeType, code)
}

// ConfirmSignUp verifies a sign up token hash and returns the session of the
// new user.
func (c *Client) ConfirmSignUp(ctx context.Context, code, codeType string) (*identity.Session, error) {
	if codeType == "" {
		codeType = identity.SignupType
	}
	if code == "" || (codeType != identity.SignupType && codeType != "email") {
		return nil, identity.ErrCodeInvalid
	}
	return c.verify(ctx, codeType, code)
}

// ExchangeAuthCode redeems a PKCE authorization code with its verifier.
func (c *Client) ExchangeAuthCode(ctx context.Context, authCode, codeVerifier string) (*identity.Session, error) {
	if authCode == "" || codeVerifier == "" {
		return nil, identity.ErrCodeInvalid
	}

	var resp sessionResponse
	err := c.do(ctx, http.MethodPost, "/token?grant_type=pkce", "", map[string]string{
		"auth_code":     authCode,
		"code_verifier": codeVerifier,
	}, &resp)
	if err != nil {
		return nil, mapVerifyError(err)
	}
	return c.session(&resp)
}

func (c *Client) verify(ctx context.Context, codeType, tokenHash string) (*identity.Session, error) {
	var resp sessionResponse
	err := c.do(ctx, http.MethodPost, "/verify", "", map[string]string{
		"type":       codeType,
		"token_hash": tokenHash,
	}, &resp)
	if err != nil {
		return nil, mapVerifyError(err)
	}
	return c.session(&resp)
}

// UpdateCurrentPassword sets the password of the session's user.
func (c *Client) UpdateCurrentPassword(ctx context.Context, s *identity.Session, newPassword string) error {
	if s == nil || s.AccessToken == "" {
		return identity.ErrNoSession
	}
	err := c.do(ctx, http.MethodPut, "/user", s.AccessToken, map[string]string{
		"password": newPassword,
	}, nil)
	if err != nil {
		return mapUpdateError(err)
	}
	return nil
}

// GetCurrentSession resolves an access token. Tokens the server rejects
// yield nil, nil.
func (c *Client) GetCurrentSession(ctx context.Context, accessToken string) (*identity.Session, error) {
	if accessToken == "" {
		return nil, nil
	}

	expiresAt := c.tokenExpiry(accessToken)
	if !expiresAt.IsZero() && !c.now().Before(expiresAt) {
		return nil, nil
	}

	var user userResponse
	if err := c.do(ctx, http.MethodGet, "/user", accessToken, nil, &user); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden) {
			return nil, nil
		}
		return nil, err
	}

	return &identity.Session{
		AccessToken: accessToken,
		UserID:      user.ID,
		Email:       user.Email,
		Role:        user.UserMetadata.Role,
		ExpiresAt:   expiresAt,
	}, nil
}

// RequestPasswordReset asks the server to mail a recovery link that returns
// to redirectURL.
func (c *Client) RequestPasswordReset(ctx context.Context, email, redirectURL string) error {
	return c.recover(ctx, map[string]string{"email": email}, redirectURL)
}

// RequestPasswordResetPKCE asks for a recovery link whose code can only be
// redeemed with the verifier of codeChallenge.
func (c *Client) RequestPasswordResetPKCE(ctx context.Context, email, redirectURL, codeChallenge string) error {
	return c.recover(ctx, map[string]string{
		"email":                 email,
		"code_challenge":        codeChallenge,
		"code_challenge_method": challengeMethod,
	}, redirectURL)
}

func (c *Client) recover(ctx context.Context, body map[string]string, redirectURL string) error {
	err := c.do(ctx, http.MethodPost, withRedirect("/recover", redirectURL), "", body, nil)
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Status == http.StatusTooManyRequests, apiErr.Code == "over_email_send_rate_limit":
			return fmt.Errorf("%w: %w", identity.ErrRateLimited, err)
		case apiErr.Code == "user_not_found":
			return fmt.Errorf("%w: %w", identity.ErrUserNotFound, err)
		}
	}
	return err
}

type signUpRequest struct {
	Email               string            `json:"email"`
	Password            string            `json:"password"`
	Data                map[string]string `json:"data"`
	CodeChallenge       string            `json:"code_challenge,omitempty"`
	CodeChallengeMethod string            `json:"code_challenge_method,omitempty"`
}

// SignUp registers a user with role in the user metadata. The server mails
// the confirmation link.
func (c *Client) SignUp(ctx context.Context, email, password, role, redirectURL string) error {
	return c.signUp(ctx, signUpRequest{Email: email, Password: password}, role, redirectURL)
}

// SignUpPKCE registers a user whose confirmation code can only be redeemed
// with the verifier of codeChallenge.
func (c *Client) SignUpPKCE(ctx context.Context, email, password, role, redirectURL, codeChallenge string) error {
	return c.signUp(ctx, signUpRequest{
		Email:               email,
		Password:            password,
		CodeChallenge:       codeChallenge,
		CodeChallengeMethod: challengeMethod,
	}, role, redirectURL)
}

func (c *Client) signUp(ctx context.Context, req signUpRequest, role, redirectURL string) error {
	if !identity.ValidRole(role) {
		return fmt.Errorf("invalid role %q", role)
	}
	req.Data = map[string]string{"role": role}

	err := c.do(ctx, http.MethodPost, withRedirect("/signup", redirectURL), "", req, nil)
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Status == http.StatusTooManyRequests, apiErr.Code == "over_email_send_rate_limit":
			return fmt.Errorf("%w: %w", identity.ErrRateLimited, err)
		case apiErr.Code == "user_already_exists", apiErr.Code == "email_exists":
			return fmt.Errorf("%w: %w", identity.ErrUserExists, err)
		case apiErr.Code == "weak_password":
			return fmt.Errorf("%w: %w", identity.ErrPasswordRejected, err)
		}
	}
	return err
}

// SignInWithPassword exchanges credentials for a session.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*identity.Session, error) {
	var resp sessionResponse
	err := c.do(ctx, http.MethodPost, "/token?grant_type=password", "", map[string]string{
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			switch {
			case apiErr.Status == http.StatusTooManyRequests:
				return nil, fmt.Errorf("%w: %w", identity.ErrRateLimited, err)
			case apiErr.Code == "email_not_confirmed":
				return nil, identity.ErrEmailNotConfirmed
			case apiErr.Status == http.StatusBadRequest,
				apiErr.Code == "invalid_credentials", apiErr.Code == "invalid_grant":
				return nil, identity.ErrInvalidCredentials
			}
		}
		return nil, err
	}
	return c.session(&resp)
}

// SignOut revokes the session. Sessions the server no longer knows count as
// signed out.
func (c *Client) SignOut(ctx context.Context, s *identity.Session) error {
	if s == nil || s.AccessToken == "" {
		return nil
	}
	err := c.do(ctx, http.MethodPost, "/logout", s.AccessToken, nil, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return nil
		}
	}
	return err
}

func (c *Client) session(resp *sessionResponse) (*identity.Session, error) {
	if resp.AccessToken == "" {
		return nil, errors.New("gotrue: response carries no access token")
	}

	var expiresAt time.Time
	switch {
	case resp.ExpiresAt > 0:
		expiresAt = time.Unix(resp.ExpiresAt, 0)
	case resp.ExpiresIn > 0:
		expiresAt = c.now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	default:
		expiresAt = c.tokenExpiry(resp.AccessToken)
	}

	return &identity.Session{
		AccessToken: resp.AccessToken,
		UserID:      resp.User.ID,
		Email:       resp.User.Email,
		Role:        resp.User.UserMetadata.Role,
		ExpiresAt:   expiresAt,
	}, nil
}

// tokenExpiry reads the exp claim of a JWT access token without verifying
// it. The server verifies the token on every call.
func (c *Client) tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

func (c *Client) do(ctx context.Context, method, path, bearer string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("gotrue: encoding request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("gotrue: building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}
	switch {
	case bearer != "":
		req.Header.Set("Authorization", "Bearer "+bearer)
	case c.apiKey != "":
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gotrue: %s %s: %w", method, stripQuery(path), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("gotrue: reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := parseError(resp.StatusCode, data)
		if resp.StatusCode >= http.StatusInternalServerError {
			slog.Warn("gotrue_request_failed", "method", method, "path", stripQuery(path), "status", resp.StatusCode)
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("gotrue: decoding response: %w", err)
	}
	return nil
}

func parseError(status int, data []byte) *APIError {
	apiErr := &APIError{Status: status, Message: http.StatusText(status)}

	var body errorBody
	if json.Unmarshal(data, &body) != nil {
		return apiErr
	}
	apiErr.Code = body.ErrorCode
	if apiErr.Code == "" {
		apiErr.Code = body.Error
	}
	for _, m := range []string{body.Msg, body.Message, body.ErrorDescription} {
		if m != "" {
			apiErr.Message = m
			break
		}
	}
	return apiErr
}

func mapVerifyError(err error) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch {
	case apiErr.Status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", identity.ErrRateLimited, err)
	case apiErr.Code == "otp_expired", apiErr.Code == "flow_state_expired":
		return fmt.Errorf("%w: %w", identity.ErrCodeExpired, err)
	case apiErr.Status >= 400 && apiErr.Status < 500:
		return fmt.Errorf("%w: %w", identity.ErrCodeInvalid, err)
	default:
		return err
	}
}

func mapUpdateError(err error) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch {
	case apiErr.Status == http.StatusUnauthorized, apiErr.Status == http.StatusForbidden,
		apiErr.Code == "session_not_found", apiErr.Code == "bad_jwt", apiErr.Code == "session_expired":
		return fmt.Errorf("%w: %w", identity.ErrNoSession, err)
	case apiErr.Status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", identity.ErrRateLimited, err)
	case apiErr.Code == "weak_password", apiErr.Code == "same_password",
		apiErr.Status == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %w", identity.ErrPasswordRejected, err)
	default:
		return err
	}
}

func withRedirect(path, redirectURL string) string {
	if redirectURL == "" {
		return path
	}
	return path + "?" + url.Values{"redirect_to": {redirectURL}}.Encode()
}

func stripQuery(path string) string {
	p, _, _ := strings.Cut(path, "?")
	return p
}
