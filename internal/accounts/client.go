package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"friends-go/internal/models"
)

// ErrUnavailable wraps transport failures and 5xx answers from the account service.
var ErrUnavailable = errors.New("account service unavailable")

// maxIDsPerRequest keeps the ids query parameter within common URL limits.
const maxIDsPerRequest = 50

// HTTPClient resolves accounts with GET {baseURL}?ids=a,b,c.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewHTTPClient creates a client for the account service at baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger.Named("accounts"),
	}
}

// Resolve fetches the accounts for ids. Unknown ids are simply absent from the result.
func (c *HTTPClient) Resolve(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Account, error) {
	out := make(map[uuid.UUID]models.Account, len(ids))
	for start := 0; start < len(ids); start += maxIDsPerRequest {
		end := min(start+maxIDsPerRequest, len(ids))
		batch, err := c.fetch(ctx, ids[start:end])
		if err != nil {
			return out, err
		}
		for _, acc := range batch {
			out[acc.ID] = acc
		}
	}
	return out, nil
}

func (c *HTTPClient) fetch(ctx context.Context, ids []uuid.UUID) ([]models.Account, error) {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	endpoint := c.baseURL + "?ids=" + url.QueryEscape(strings.Join(parts, ","))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build account request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if auth := AuthorizationFromContext(ctx); auth != "" {
		req.Header.Set("Authorization", auth)
	}

	c.logger.Debug("fetching accounts", zap.Int("count", len(ids)))
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, nil
	case resp.StatusCode >= 500:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("account service returned status %d", resp.StatusCode)
	}

	var accounts []models.Account
	if err := json.NewDecoder(resp.Body).Decode(&accounts); err != nil {
		return nil, fmt.Errorf("decode accounts: %w", err)
	}
	return accounts, nil
}

type authorizationKey struct{}

// WithAuthorization carries the caller's Authorization header to outgoing account requests.
func WithAuthorization(ctx context.Context, header string) context.Context {
	if header == "" {
		return ctx
	}
	return context.WithValue(ctx, authorizationKey{}, header)
}

func AuthorizationFromContext(ctx context.Context) string {
	v, _ := ctx.Value(authorizationKey{}).(string)
	return v
}
