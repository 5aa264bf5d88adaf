// --- File: internal/auth/signer.go ---
// Package auth obtains push-gateway bearer tokens with the service-account
// signed-assertion (JWT bearer) OAuth flow.
package auth

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tinywideclouds/go-push-worker/pkg/dispatch"
)

const (
	DefaultTokenURL  = "https://oauth2.googleapis.com/token"
	MessagingScope   = "https://www.googleapis.com/auth/firebase.messaging"
	jwtBearerGrant   = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	assertionTTL     = time.Hour
	maxErrorBodySize = 4096
)

// Config holds the service-account identity used to sign assertions.
type Config struct {
	ClientEmail string
	// PrivateKeyPEM is a PKCS#8 "PRIVATE KEY" PEM block with real newlines.
	PrivateKeyPEM string
	// TokenURL defaults to DefaultTokenURL. It is also the assertion audience.
	TokenURL string
	// Scope defaults to MessagingScope.
	Scope string
}

// ServiceAccountSigner exchanges a freshly signed assertion for an access token on every call.
type ServiceAccountSigner struct {
	clientEmail string
	tokenURL    string
	scope       string
	key         *rsa.PrivateKey
	httpClient  *http.Client
	now         func() time.Time
	logger      *slog.Logger
}

// NewServiceAccountSigner parses the key immediately so bad credentials fail at startup.
func NewServiceAccountSigner(cfg Config, httpClient *http.Client, logger *slog.Logger) (*ServiceAccountSigner, error) {
	if cfg.ClientEmail == "" {
		return nil, fmt.Errorf("%w: service account client email is empty", dispatch.ErrAuth)
	}
	key, err := ParsePrivateKey(cfg.PrivateKeyPEM)
	if err != nil {
		return nil, err
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.Scope == "" {
		cfg.Scope = MessagingScope
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &ServiceAccountSigner{
		clientEmail: cfg.ClientEmail,
		tokenURL:    cfg.TokenURL,
		scope:       cfg.Scope,
		key:         key,
		httpClient:  httpClient,
		now:         time.Now,
		logger:      logger.With("component", "ServiceAccountSigner"),
	}, nil
}

// ParsePrivateKey accepts exactly one PEM-encoded PKCS#8 RSA private key.
func ParsePrivateKey(pemText string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(strings.TrimSpace(pemText)))
	if block == nil {
		return nil, fmt.Errorf("%w: private key is not PEM encoded", dispatch.ErrAuth)
	}
	if block.Type != "PRIVATE KEY" {
		return nil, fmt.Errorf("%w: expected a PKCS#8 PRIVATE KEY block, got %q", dispatch.ErrAuth, block.Type)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse PKCS#8 private key: %v", dispatch.ErrAuth, err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: private key is %T, want RSA", dispatch.ErrAuth, parsed)
	}
	return key, nil
}

// Assertion builds the signed three-segment JWT for the token exchange.
func (s *ServiceAccountSigner) Assertion() (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"iss":   s.clientEmail,
		"scope": s.scope,
		"aud":   s.tokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(assertionTTL).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("%w: failed to sign assertion: %v", dispatch.ErrAuth, err)
	}
	return signed, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// AccessToken signs an assertion and exchanges it at the token endpoint.
func (s *ServiceAccountSigner) AccessToken(ctx context.Context) (dispatch.AccessToken, error) {
	assertion, err := s.Assertion()
	if err != nil {
		return dispatch.AccessToken{}, err
	}

	form := url.Values{}
	form.Set("grant_type", jwtBearerGrant)
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return dispatch.AccessToken{}, fmt.Errorf("%w: failed to build token request: %v", dispatch.ErrAuth, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	requestedAt := s.now()
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return dispatch.AccessToken{}, fmt.Errorf("%w: token exchange: %v", dispatch.ErrAuth, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	if err != nil {
		return dispatch.AccessToken{}, fmt.Errorf("%w: reading token response: %v", dispatch.ErrAuth, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return dispatch.AccessToken{}, fmt.Errorf("%w: token endpoint returned %d: %s", dispatch.ErrAuth, resp.StatusCode, string(body))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return dispatch.AccessToken{}, fmt.Errorf("%w: decoding token response: %v", dispatch.ErrAuth, err)
	}
	if tr.AccessToken == "" {
		return dispatch.AccessToken{}, fmt.Errorf("%w: token response has no access_token", dispatch.ErrAuth)
	}

	ttl := time.Duration(tr.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = assertionTTL
	}
	s.logger.Debug("Obtained gateway access token", "expires_in", ttl.String())
	return dispatch.AccessToken{Value: tr.AccessToken, ExpiresAt: requestedAt.Add(ttl)}, nil
}
