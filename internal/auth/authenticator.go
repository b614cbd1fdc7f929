package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/solar-controller-core/internal/access"
)

// Development token constants.
const (
	TestToken      = "test-token-12345"
	WebTokenPrefix = "web-temp-token-"

	testEmail   = "test@solar.com"
	testSubject = "test-google-id"
	webEmail    = "webuser@solar.com"
	devUserName = "Test User"
)

// UserProvisioner finds or creates user accounts. UpsertUser backs
// provider sign-in; EnsureUserByEmail backs the development tokens.
type UserProvisioner interface {
	UpsertUser(ctx context.Context, subject, email, name, avatar string) (access.User, error)
	EnsureUserByEmail(ctx context.Context, email, subject, name string) (access.User, error)
}

// VerifiedIdentity is the profile an identity provider vouches for.
type VerifiedIdentity struct {
	Subject string
	Email   string
	Name    string
	Avatar  string
}

// IdentityVerifier checks an identity provider credential, such as a
// Google Sign-In ID token. Rejected credentials wrap ErrCredentialInvalid.
type IdentityVerifier interface {
	Verify(ctx context.Context, credential string) (VerifiedIdentity, error)
}

// Config configures an Authenticator.
type Config struct {
	Secret    string
	TokenTTL  time.Duration
	DevTokens bool
}

// Authenticator resolves bearer tokens to identities.
type Authenticator struct {
	users    UserProvisioner
	verifier IdentityVerifier
	cfg      Config
	logger   Logger
}

// NewAuthenticator creates an Authenticator. Sign-in stays disabled until
// a verifier is set with SetVerifier.
func NewAuthenticator(users UserProvisioner, cfg Config) *Authenticator {
	return &Authenticator{users: users, cfg: cfg, logger: noopLogger{}}
}

// SetVerifier enables Login with credentials checked by v.
func (a *Authenticator) SetVerifier(v IdentityVerifier) {
	a.verifier = v
}

// SetLogger sets the logger for the authenticator.
func (a *Authenticator) SetLogger(logger Logger) {
	a.logger = logger
}

// DevTokensEnabled reports whether development tokens are accepted.
func (a *Authenticator) DevTokensEnabled() bool {
	return a.cfg.DevTokens
}

// Authenticate resolves token to an Identity. Provisioning failures for
// development tokens are returned as-is so callers can tell them apart
// from ErrTokenInvalid.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrTokenMissing
	}

	if a.cfg.DevTokens {
		switch {
		case token == TestToken:
			return a.provision(ctx, testEmail, testSubject)
		case strings.HasPrefix(token, WebTokenPrefix):
			return a.provision(ctx, webEmail, strings.TrimPrefix(token, WebTokenPrefix))
		}
	}

	claims, err := ParseToken(token, a.cfg.Secret)
	if err != nil {
		return Identity{}, err
	}
	return claims.Identity(), nil
}

// Login exchanges an identity provider credential for an access token. The
// user is created on first sign-in; later sign-ins refresh the stored
// email, name, avatar and last login time.
func (a *Authenticator) Login(ctx context.Context, credential string) (string, access.User, error) {
	if a.verifier == nil {
		return "", access.User{}, ErrSignInDisabled
	}
	if credential == "" {
		return "", access.User{}, fmt.Errorf("%w: credential required", ErrCredentialInvalid)
	}

	profile, err := a.verifier.Verify(ctx, credential)
	if err != nil {
		return "", access.User{}, err
	}
	if profile.Subject == "" || profile.Email == "" {
		return "", access.User{}, fmt.Errorf("%w: subject and email required", ErrCredentialInvalid)
	}

	user, err := a.users.UpsertUser(ctx, profile.Subject, profile.Email, profile.Name, profile.Avatar)
	if err != nil {
		return "", access.User{}, fmt.Errorf("signing in %s: %w", profile.Email, err)
	}

	token, err := a.issue(user)
	if err != nil {
		return "", access.User{}, err
	}
	a.logger.Info("user signed in", "user_id", user.ID)
	return token, user, nil
}

// TestLogin provisions the fixed test user and issues a real access token
// for it.
func (a *Authenticator) TestLogin(ctx context.Context) (string, access.User, error) {
	if !a.cfg.DevTokens {
		return "", access.User{}, ErrDevDisabled
	}

	user, err := a.users.EnsureUserByEmail(ctx, testEmail, testSubject, devUserName)
	if err != nil {
		return "", access.User{}, fmt.Errorf("provisioning test user: %w", err)
	}

	token, err := a.issue(user)
	if err != nil {
		return "", access.User{}, err
	}
	a.logger.Info("test login", "user_id", user.ID)
	return token, user, nil
}

func (a *Authenticator) issue(user access.User) (string, error) {
	return IssueToken(Identity{UserID: user.ID, Email: user.Email, Subject: user.Subject}, a.cfg.Secret, a.cfg.TokenTTL)
}

func (a *Authenticator) provision(ctx context.Context, email, subject string) (Identity, error) {
	user, err := a.users.EnsureUserByEmail(ctx, email, subject, devUserName)
	if err != nil {
		return Identity{}, fmt.Errorf("provisioning %s: %w", email, err)
	}
	// The token's subject wins over the stored one, matching what the
	// caller presented.
	return Identity{UserID: user.ID, Email: user.Email, Subject: subject}, nil
}
