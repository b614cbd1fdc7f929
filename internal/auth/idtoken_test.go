package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testClientID = "client-123.apps.googleusercontent.com"

// keyServer serves a mutable JWKS document and counts fetches.
type keyServer struct {
	*httptest.Server
	mu      sync.Mutex
	keys    map[string]*rsa.PublicKey
	status  int
	fetches atomic.Int32
}

func newKeyServer(t *testing.T, keys map[string]*rsa.PublicKey) *keyServer {
	t.Helper()
	ks := &keyServer{keys: keys, status: http.StatusOK}
	ks.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		ks.fetches.Add(1)
		ks.mu.Lock()
		defer ks.mu.Unlock()

		if ks.status != http.StatusOK {
			w.WriteHeader(ks.status)
			return
		}
		set := struct {
			Keys []jsonWebKey `json:"keys"`
		}{}
		for kid, pub := range ks.keys {
			set.Keys = append(set.Keys, jsonWebKey{
				Kty: "RSA",
				Kid: kid,
				N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			})
		}
		//nolint:errcheck // Test server
		json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(ks.Close)
	return ks
}

func (ks *keyServer) setKeys(keys map[string]*rsa.PublicKey) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.keys = keys
}

func mustRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating RSA key: %v", err)
	}
	return key
}

func googleClaims() idTokenClaims {
	verified := true
	now := time.Now()
	return idTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://accounts.google.com",
			Subject:   "g-42",
			Audience:  jwt.ClaimStrings{testClientID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		Email:         "alice@example.com",
		EmailVerified: &verified,
		Name:          "Alice",
		Picture:       "https://img.example.com/alice.png",
	}
}

func signIDToken(t *testing.T, key *rsa.PrivateKey, kid string, claims idTokenClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("signing ID token: %v", err)
	}
	return signed
}

func newTestVerifier(url string) *JWKSVerifier {
	return NewJWKSVerifier(JWKSConfig{URL: url, Audience: testClientID, Issuers: GoogleIssuers})
}

// ============================================================================
// Verify
// ============================================================================

func TestJWKSVerifier_Verify(t *testing.T) {
	key := mustRSAKey(t)
	other := mustRSAKey(t)
	ks := newKeyServer(t, map[string]*rsa.PublicKey{"k1": &key.PublicKey})

	unverified := false
	tests := []struct {
		name    string
		token   func() string
		wantErr error
	}{
		{
			name:  "valid",
			token: func() string { return signIDToken(t, key, "k1", googleClaims()) },
		},
		{
			name: "wrong audience",
			token: func() string {
				c := googleClaims()
				c.Audience = jwt.ClaimStrings{"someone-else"}
				return signIDToken(t, key, "k1", c)
			},
			wantErr: ErrCredentialInvalid,
		},
		{
			name: "wrong issuer",
			token: func() string {
				c := googleClaims()
				c.Issuer = "https://evil.example.com"
				return signIDToken(t, key, "k1", c)
			},
			wantErr: ErrCredentialInvalid,
		},
		{
			name: "expired",
			token: func() string {
				c := googleClaims()
				c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
				return signIDToken(t, key, "k1", c)
			},
			wantErr: ErrCredentialInvalid,
		},
		{
			name: "missing email",
			token: func() string {
				c := googleClaims()
				c.Email = ""
				return signIDToken(t, key, "k1", c)
			},
			wantErr: ErrCredentialInvalid,
		},
		{
			name: "unverified email",
			token: func() string {
				c := googleClaims()
				c.EmailVerified = &unverified
				return signIDToken(t, key, "k1", c)
			},
			wantErr: ErrCredentialInvalid,
		},
		{
			name:    "signed by unknown key",
			token:   func() string { return signIDToken(t, other, "k1", googleClaims()) },
			wantErr: ErrCredentialInvalid,
		},
		{
			name:    "unknown key id",
			token:   func() string { return signIDToken(t, key, "k9", googleClaims()) },
			wantErr: ErrCredentialInvalid,
		},
		{
			name: "HMAC signed",
			token: func() string {
				signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, googleClaims()).SignedString([]byte("secret"))
				if err != nil {
					t.Fatalf("signing: %v", err)
				}
				return signed
			},
			wantErr: ErrCredentialInvalid,
		},
		{
			name:    "garbage",
			token:   func() string { return "not-a-jwt" },
			wantErr: ErrCredentialInvalid,
		},
	}

	v := newTestVerifier(ks.URL)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.Verify(context.Background(), tt.token())
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Verify() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Verify() error = %v", err)
			}
			want := VerifiedIdentity{Subject: "g-42", Email: "alice@example.com", Name: "Alice", Avatar: "https://img.example.com/alice.png"}
			if got != want {
				t.Errorf("Verify() = %+v, want %+v", got, want)
			}
		})
	}
}

func TestJWKSVerifier_CachesKeys(t *testing.T) {
	key := mustRSAKey(t)
	ks := newKeyServer(t, map[string]*rsa.PublicKey{"k1": &key.PublicKey})
	v := newTestVerifier(ks.URL)

	for i := 0; i < 3; i++ {
		if _, err := v.Verify(context.Background(), signIDToken(t, key, "k1", googleClaims())); err != nil {
			t.Fatalf("Verify() #%d error = %v", i, err)
		}
	}
	// Unknown key ids inside the refetch window are rejected from cache.
	if _, err := v.Verify(context.Background(), signIDToken(t, key, "k2", googleClaims())); !errors.Is(err, ErrCredentialInvalid) {
		t.Errorf("unknown kid error = %v, want ErrCredentialInvalid", err)
	}
	if n := ks.fetches.Load(); n != 1 {
		t.Errorf("fetches = %d, want 1", n)
	}
}

func TestJWKSVerifier_KeyRotation(t *testing.T) {
	oldKey := mustRSAKey(t)
	newKey := mustRSAKey(t)
	ks := newKeyServer(t, map[string]*rsa.PublicKey{"old": &oldKey.PublicKey})
	v := newTestVerifier(ks.URL)
	v.minRefetch = 0

	if _, err := v.Verify(context.Background(), signIDToken(t, oldKey, "old", googleClaims())); err != nil {
		t.Fatalf("Verify(old) error = %v", err)
	}

	ks.setKeys(map[string]*rsa.PublicKey{"new": &newKey.PublicKey})
	if _, err := v.Verify(context.Background(), signIDToken(t, newKey, "new", googleClaims())); err != nil {
		t.Fatalf("Verify(new) error = %v", err)
	}
	if n := ks.fetches.Load(); n != 2 {
		t.Errorf("fetches = %d, want 2", n)
	}
}

func TestJWKSVerifier_Unavailable(t *testing.T) {
	key := mustRSAKey(t)
	ks := newKeyServer(t, nil)
	ks.status = http.StatusInternalServerError
	v := newTestVerifier(ks.URL)

	_, err := v.Verify(context.Background(), signIDToken(t, key, "k1", googleClaims()))
	if !errors.Is(err, ErrVerifierUnavailable) {
		t.Fatalf("Verify() error = %v, want ErrVerifierUnavailable", err)
	}
	if errors.Is(err, ErrCredentialInvalid) {
		t.Error("an unreachable key server must not look like a bad credential")
	}
}

func TestJSONWebKey_RejectsBadExponent(t *testing.T) {
	k := jsonWebKey{Kty: "RSA", N: base64.RawURLEncoding.EncodeToString([]byte{1, 2, 3}), E: base64.RawURLEncoding.EncodeToString([]byte{1})}
	if _, err := k.rsaPublicKey(); err == nil {
		t.Error("rsaPublicKey() accepted exponent 1")
	}
}
