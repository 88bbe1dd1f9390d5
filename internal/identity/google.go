package identity

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/clinic-api/internal/model"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

// Verifier checks a third-party ID token and returns the identity it asserts.
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (*model.ProviderIdentity, error)
}

// GoogleIssuers are the only accepted "iss" values for Google ID tokens.
var GoogleIssuers = []string{"accounts.google.com", "https://accounts.google.com"}

const jwksCacheKey = "jwks"

// minKeyRefresh bounds how often an unknown kid may trigger a JWKS download.
const minKeyRefresh = time.Minute

var errKeysUnavailable = errors.New("signing keys unavailable")

type GoogleConfig struct {
	ClientID string
	JWKSURL  string
	CacheTTL time.Duration
	Timeout  time.Duration
}

type GoogleVerifier struct {
	cfg        GoogleConfig
	httpClient *http.Client
	keys       *cache.Cache
	now        func() time.Time

	fetchMu   sync.Mutex
	lastFetch time.Time
}

type jwks struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type googleClaims struct {
	jwt.RegisteredClaims
	Email         string      `json:"email"`
	EmailVerified interface{} `json:"email_verified"`
	Name          string      `json:"name"`
	Picture       string      `json:"picture"`
}

func (c *googleClaims) emailVerified() bool {
	switch v := c.EmailVerified.(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return false
}

func NewGoogleVerifier(cfg GoogleConfig, httpClient *http.Client) *GoogleVerifier {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &GoogleVerifier{
		cfg:        cfg,
		httpClient: httpClient,
		keys:       cache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
		now:        time.Now,
	}
}

func (v *GoogleVerifier) Verify(ctx context.Context, rawToken string) (*model.ProviderIdentity, error) {
	var claims googleClaims
	_, err := jwt.ParseWithClaims(rawToken, &claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid header")
		}
		return v.publicKey(ctx, kid)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.cfg.ClientID),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		if errors.Is(err, errKeysUnavailable) {
			return nil, apperrors.Unavailable(err)
		}
		return nil, apperrors.InvalidProviderToken(err)
	}

	if !trustedIssuer(claims.Issuer) {
		return nil, apperrors.InvalidProviderToken(fmt.Errorf("untrusted issuer %q", claims.Issuer))
	}
	if claims.Subject == "" || claims.Email == "" {
		return nil, apperrors.InvalidProviderToken(errors.New("token lacks subject or email"))
	}

	return &model.ProviderIdentity{
		Subject:       claims.Subject,
		Email:         model.NormalizeEmail(claims.Email),
		EmailVerified: claims.emailVerified(),
		Name:          claims.Name,
		Picture:       claims.Picture,
	}, nil
}

func trustedIssuer(iss string) bool {
	for _, i := range GoogleIssuers {
		if i == iss {
			return true
		}
	}
	return false
}

func (v *GoogleVerifier) cachedKey(kid string) (key *rsa.PublicKey, cached bool) {
	set, ok := v.keys.Get(jwksCacheKey)
	if !ok {
		return nil, false
	}
	return set.(map[string]*rsa.PublicKey)[kid], true
}

func (v *GoogleVerifier) publicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if key, _ := v.cachedKey(kid); key != nil {
		return key, nil
	}

	// Unknown kid usually means Google rotated its keys. One request at a time
	// refreshes, and a fresh key set is not downloaded again for minKeyRefresh,
	// so tokens with made-up kids cannot turn into a JWKS request each.
	v.fetchMu.Lock()
	defer v.fetchMu.Unlock()

	key, cached := v.cachedKey(kid)
	if key != nil {
		return key, nil
	}
	if cached && v.now().Sub(v.lastFetch) < minKeyRefresh {
		return nil, fmt.Errorf("public key with kid %s not found", kid)
	}

	keys, err := v.fetchKeys(ctx)
	if err != nil {
		return nil, err
	}
	v.keys.SetDefault(jwksCacheKey, keys)
	v.lastFetch = v.now()

	if key, ok := keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("public key with kid %s not found", kid)
}

func (v *GoogleVerifier) fetchKeys(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.cfg.JWKSURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errKeysUnavailable, err)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to fetch JWKS: %v", errKeysUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: JWKS endpoint returned status %d", errKeysUnavailable, resp.StatusCode)
	}

	var set jwks
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("%w: failed to decode JWKS: %v", errKeysUnavailable, err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pub, err := parseRSAPublicKey(k.N, k.E)
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}
	return keys, nil
}

func parseRSAPublicKey(nStr, eStr string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}

	eBytes, err := base64.RawURLEncoding.DecodeString(eStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}

	var e int
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}, nil
}

type disabled struct{}

// Disabled rejects every provider token; used when Google sign-in is off.
func Disabled() Verifier {
	return disabled{}
}

func (disabled) Verify(context.Context, string) (*model.ProviderIdentity, error) {
	return nil, apperrors.InvalidProviderToken(errors.New("google sign-in is disabled"))
}
