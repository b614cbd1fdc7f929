package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// GoogleJWKSURL serves the keys Google signs Sign-In ID tokens with.
const GoogleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"

// GoogleIssuers are the iss values Google puts in ID tokens.
var GoogleIssuers = []string{"accounts.google.com", "https://accounts.google.com"}

const (
	defaultKeyRefresh  = time.Hour
	minKeyRefetch      = time.Minute
	jwksFetchTimeout   = 10 * time.Second
	maxJWKSSize        = 1 << 20
	rsaExponentMinimum = 3
)

// JWKSConfig configures a JWKSVerifier.
type JWKSConfig struct {
	// URL serves the provider's JSON Web Key Set.
	URL string

	// Audience is the OAuth client id the token must be issued for.
	Audience string

	// Issuers lists accepted iss values. Empty accepts any issuer.
	Issuers []string

	// RefreshInterval bounds how long fetched keys are used before the
	// set is fetched again.
	RefreshInterval time.Duration

	HTTPClient *http.Client
}

// JWKSVerifier checks RS256 ID tokens against the signing keys published
// at a JWKS endpoint. Keys are cached and refetched when they age out or
// when a token names a key the cache does not hold.
type JWKSVerifier struct {
	cfg    JWKSConfig
	client *http.Client

	// minRefetch limits refetches triggered by unknown key ids.
	minRefetch time.Duration

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

type idTokenClaims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	EmailVerified *bool  `json:"email_verified,omitempty"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

type jsonWebKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// NewJWKSVerifier creates a verifier. No keys are fetched until the first
// Verify call.
func NewJWKSVerifier(cfg JWKSConfig) *JWKSVerifier {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = defaultKeyRefresh
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: jwksFetchTimeout}
	}
	return &JWKSVerifier{cfg: cfg, client: client, minRefetch: minKeyRefetch}
}

// Verify validates the credential's signature, audience, issuer and expiry
// and returns the profile it carries.
func (v *JWKSVerifier) Verify(ctx context.Context, credential string) (VerifiedIdentity, error) {
	var claims idTokenClaims
	_, err := jwt.ParseWithClaims(credential, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		return v.key(ctx, kid)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.cfg.Audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, ErrVerifierUnavailable) {
			return VerifiedIdentity{}, err
		}
		return VerifiedIdentity{}, fmt.Errorf("%w: %w", ErrCredentialInvalid, err)
	}

	switch {
	case len(v.cfg.Issuers) > 0 && !slices.Contains(v.cfg.Issuers, claims.Issuer):
		return VerifiedIdentity{}, fmt.Errorf("%w: unexpected issuer %q", ErrCredentialInvalid, claims.Issuer)
	case claims.Subject == "" || claims.Email == "":
		return VerifiedIdentity{}, fmt.Errorf("%w: subject and email required", ErrCredentialInvalid)
	case claims.EmailVerified != nil && !*claims.EmailVerified:
		return VerifiedIdentity{}, fmt.Errorf("%w: email not verified", ErrCredentialInvalid)
	}

	return VerifiedIdentity{
		Subject: claims.Subject,
		Email:   claims.Email,
		Name:    claims.Name,
		Avatar:  claims.Picture,
	}, nil
}

func (v *JWKSVerifier) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	age := time.Since(v.fetchedAt)
	if k, ok := v.keys[kid]; ok && age < v.cfg.RefreshInterval {
		return k, nil
	}
	if v.keys != nil && age < v.minRefetch && age < v.cfg.RefreshInterval {
		return nil, fmt.Errorf("unknown signing key %q", kid)
	}

	keys, err := v.fetch(ctx)
	if err != nil {
		return nil, err
	}
	v.keys = keys
	v.fetchedAt = time.Now()

	k, ok := keys[kid]
	if !ok {
		return nil, fmt.Errorf("unknown signing key %q", kid)
	}
	return k, nil
}

func (v *JWKSVerifier) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrVerifierUnavailable, err)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching signing keys: %w", ErrVerifierUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: fetching signing keys: status %d", ErrVerifierUnavailable, resp.StatusCode)
	}

	var set struct {
		Keys []jsonWebKey `json:"keys"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJWKSSize)).Decode(&set); err != nil {
		return nil, fmt.Errorf("%w: decoding signing keys: %w", ErrVerifierUnavailable, err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pub, err := k.rsaPublicKey()
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: no usable RSA keys", ErrVerifierUnavailable)
	}
	return keys, nil
}

func (k jsonWebKey) rsaPublicKey() (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("exponent: %w", err)
	}

	exp := new(big.Int).SetBytes(e)
	if !exp.IsInt64() || exp.Int64() < rsaExponentMinimum || exp.Int64() > math.MaxInt32 {
		return nil, errors.New("exponent out of range")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exp.Int64())}, nil
}
