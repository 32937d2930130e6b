package token

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/smallbiznis/payrelay/internal/clock"
	"github.com/smallbiznis/payrelay/internal/config"
	zohodomain "github.com/smallbiznis/payrelay/internal/zoho/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// expiryMargin keeps a token from being handed out when it is about to
// lapse mid-request.
const expiryMargin = 5 * time.Second

type Params struct {
	fx.In

	Cfg   config.Config
	Log   *zap.Logger
	Clock clock.Clock
}

// Cache holds a single bearer credential and refreshes it via the OAuth
// token endpoint when expired or absent. The check-then-refresh sequence
// is serialized so concurrent callers awaiting an expired token share one
// refresh call instead of issuing N redundant ones.
type Cache struct {
	httpClient   *http.Client
	log          *zap.Logger
	clock        clock.Clock
	accountsURL  string
	clientID     string
	clientSecret string
	refreshToken string

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

func NewCache(p Params) *Cache {
	return &Cache{
		httpClient:   &http.Client{Timeout: 20 * time.Second},
		log:          p.Log.Named("zoho.token"),
		clock:        p.Clock,
		accountsURL:  strings.TrimRight(p.Cfg.Zoho.AccountsURL, "/"),
		clientID:     p.Cfg.Zoho.ClientID,
		clientSecret: p.Cfg.Zoho.ClientSecret,
		refreshToken: p.Cfg.Zoho.RefreshToken,
	}
}

type refreshResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	Error       string `json:"error"`
}

// AccessToken returns the cached token when it is still comfortably
// valid, refreshing it otherwise.
func (c *Cache) AccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if c.accessToken != "" && c.expiresAt.After(now.Add(expiryMargin)) {
		return c.accessToken, nil
	}

	token, expiresIn, err := c.refresh(ctx)
	if err != nil {
		return "", err
	}

	c.accessToken = token
	c.expiresAt = now.Add(time.Duration(expiresIn) * time.Second)
	c.log.Debug("access token refreshed", zap.Time("expires_at", c.expiresAt))
	return c.accessToken, nil
}

func (c *Cache) refresh(ctx context.Context) (string, int64, error) {
	form := url.Values{}
	form.Set("refresh_token", c.refreshToken)
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("grant_type", "refresh_token")

	endpoint := c.accountsURL + "/oauth/v2/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", zohodomain.ErrAuth, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", zohodomain.ErrAuth, err)
	}
	defer resp.Body.Close()

	var body refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", 0, fmt.Errorf("%w: %v", zohodomain.ErrAuth, err)
	}
	if strings.TrimSpace(body.AccessToken) == "" {
		desc := strings.TrimSpace(body.Error)
		if desc == "" {
			desc = "no access token in response"
		}
		return "", 0, fmt.Errorf("%w: %s", zohodomain.ErrAuth, desc)
	}

	expiresIn := body.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	return body.AccessToken, expiresIn, nil
}
