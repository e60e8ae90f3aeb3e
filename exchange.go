package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/goliatone/go-errors"
)

// ExchangeResult is what the backend token-exchange endpoint returns on a
// successful credential check. The principal payload is the provider's view
// and carries no trusted role: the production facade re-resolves role from
// the principals store.
type ExchangeResult struct {
	PrincipalID string    `json:"principal_id"`
	Email       string    `json:"email"`
	Token       string    `json:"token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// TokenExchanger verifies credentials against the external identity
// provider and returns a session token. The production facade is its sole
// caller.
type TokenExchanger interface {
	Exchange(ctx context.Context, email, password string) (*ExchangeResult, error)
	Revoke(ctx context.Context, token string) error
}

// HTTPTokenExchanger talks to the backend token-exchange endpoint over
// JSON.
type HTTPTokenExchanger struct {
	endpoint   string
	httpClient *http.Client
	logger     Logger
}

// NewHTTPTokenExchanger creates an exchanger for the given endpoint. A nil
// client gets a 10 second timeout default.
func NewHTTPTokenExchanger(endpoint string, client *http.Client, logger Logger) *HTTPTokenExchanger {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = defLogger{}
	}
	return &HTTPTokenExchanger{
		endpoint:   endpoint,
		httpClient: client,
		logger:     logger,
	}
}

type exchangeRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type exchangeResponse struct {
	Principal struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"principal"`
	Session struct {
		AccessToken string `json:"access_token"`
		ExpiresAt   int64  `json:"expires_at"`
	} `json:"session"`
	Error string `json:"error,omitempty"`
}

// Exchange posts credentials to the provider. Rejected credentials map to
// ErrInvalidCredentials; connection failures and provider errors map to
// ErrProviderUnavailable.
func (e *HTTPTokenExchanger) Exchange(ctx context.Context, email, password string) (*ExchangeResult, error) {
	payload, err := json.Marshal(exchangeRequest{Email: email, Password: password})
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to encode exchange request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to build exchange request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		e.logger.Warn("token exchange request failed: %v", err)
		return nil, wrapProviderUnavailable(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrapProviderUnavailable(err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrInvalidCredentials
	case resp.StatusCode >= http.StatusInternalServerError:
		e.logger.Warn("token exchange provider error: status=%d", resp.StatusCode)
		return nil, ErrProviderUnavailable
	default:
		return nil, errors.New("unexpected exchange response", errors.CategoryOperation).
			WithMetadata(map[string]any{"status": resp.StatusCode})
	}

	var decoded exchangeResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, errors.Wrap(err, errors.CategoryOperation, "failed to decode exchange response").
			WithTextCode(TextCodeProviderUnavailable)
	}

	if decoded.Session.AccessToken == "" {
		return nil, errors.New("exchange response missing access token", errors.CategoryOperation).
			WithTextCode(TextCodeProviderUnavailable)
	}

	result := &ExchangeResult{
		PrincipalID: decoded.Principal.ID,
		Email:       decoded.Principal.Email,
		Token:       decoded.Session.AccessToken,
	}
	if decoded.Session.ExpiresAt > 0 {
		result.ExpiresAt = time.Unix(decoded.Session.ExpiresAt, 0)
	}

	return result, nil
}

// Revoke invalidates the provider session token on sign-out. Revocation
// failures are reported but the local session is cleared regardless.
func (e *HTTPTokenExchanger) Revoke(ctx context.Context, token string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, e.endpoint, nil)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to build revoke request")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return wrapProviderUnavailable(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusInternalServerError {
		return ErrProviderUnavailable
	}
	return nil
}

func wrapProviderUnavailable(cause error) error {
	clone := ErrProviderUnavailable.Clone()
	if clone == nil {
		return ErrProviderUnavailable
	}
	clone.Source = cause
	return clone
}
