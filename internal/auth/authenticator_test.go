package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/solar-controller-core/internal/access"
)

// fakeUsers provisions users keyed by email, or by subject for sign-in.
type fakeUsers struct {
	byEmail   map[string]access.User
	bySubject map[string]access.User
	calls     int
	upserts   int
	err       error
}

func (f *fakeUsers) UpsertUser(_ context.Context, subject, email, name, avatar string) (access.User, error) {
	f.upserts++
	if f.err != nil {
		return access.User{}, f.err
	}
	u, ok := f.bySubject[subject]
	if !ok {
		u = access.User{ID: "usr-" + subject, Subject: subject}
	}
	u.Email, u.Name, u.Avatar = email, name, avatar
	f.bySubject[subject] = u
	return u, nil
}

func (f *fakeUsers) EnsureUserByEmail(_ context.Context, email, subject, name string) (access.User, error) {
	f.calls++
	if f.err != nil {
		return access.User{}, f.err
	}
	if u, ok := f.byEmail[email]; ok {
		return u, nil
	}
	u := access.User{ID: "usr-" + subject, Subject: subject, Email: email, Name: name}
	f.byEmail[email] = u
	return u, nil
}

func newTestAuthenticator(devTokens bool) (*Authenticator, *fakeUsers) {
	users := &fakeUsers{byEmail: make(map[string]access.User), bySubject: make(map[string]access.User)}
	return NewAuthenticator(users, Config{Secret: testSecret, TokenTTL: time.Hour, DevTokens: devTokens}), users
}

func TestAuthenticate_JWT(t *testing.T) {
	a, users := newTestAuthenticator(false)
	want := Identity{UserID: "usr-abc", Email: "a@example.com", Subject: "g-1"}

	token, err := IssueToken(want, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	got, err := a.Authenticate(context.Background(), token)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if got != want {
		t.Errorf("Authenticate() = %+v, want %+v", got, want)
	}
	if users.calls != 0 {
		t.Error("JWT authentication must not touch the user store")
	}
}

func TestAuthenticate_DevTokens(t *testing.T) {
	a, users := newTestAuthenticator(true)
	ctx := context.Background()

	test, err := a.Authenticate(ctx, TestToken)
	if err != nil {
		t.Fatalf("Authenticate(test token) error = %v", err)
	}
	if test.Email != testEmail || test.Subject != testSubject {
		t.Errorf("test identity = %+v", test)
	}

	web1, err := a.Authenticate(ctx, WebTokenPrefix+"g-one")
	if err != nil {
		t.Fatalf("Authenticate(web token) error = %v", err)
	}
	web2, err := a.Authenticate(ctx, WebTokenPrefix+"g-two")
	if err != nil {
		t.Fatalf("Authenticate(web token) error = %v", err)
	}
	if web1.UserID != web2.UserID || web1.Email != webEmail {
		t.Errorf("web identities = %+v / %+v, want one shared account", web1, web2)
	}
	if web2.Subject != "g-two" {
		t.Errorf("web subject = %q, want token suffix", web2.Subject)
	}
	if users.calls != 3 {
		t.Errorf("provision calls = %d, want 3", users.calls)
	}
}

func TestAuthenticate_DevTokensDisabled(t *testing.T) {
	a, users := newTestAuthenticator(false)

	for _, token := range []string{TestToken, WebTokenPrefix + "x"} {
		if _, err := a.Authenticate(context.Background(), token); !errors.Is(err, ErrTokenInvalid) {
			t.Errorf("Authenticate(%q) error = %v, want ErrTokenInvalid", token, err)
		}
	}
	if users.calls != 0 {
		t.Error("disabled dev tokens must not provision users")
	}
}

func TestAuthenticate_Missing(t *testing.T) {
	a, _ := newTestAuthenticator(true)
	if _, err := a.Authenticate(context.Background(), ""); !errors.Is(err, ErrTokenMissing) {
		t.Errorf("Authenticate(\"\") error = %v, want ErrTokenMissing", err)
	}
}

func TestAuthenticate_ProvisionFailure(t *testing.T) {
	a, users := newTestAuthenticator(true)
	users.err = access.ErrStore

	_, err := a.Authenticate(context.Background(), TestToken)
	if !errors.Is(err, access.ErrStore) {
		t.Errorf("Authenticate() error = %v, want ErrStore", err)
	}
	if errors.Is(err, ErrTokenInvalid) {
		t.Error("provisioning failure must not look like a bad token")
	}
}

func TestTestLogin(t *testing.T) {
	a, _ := newTestAuthenticator(true)

	token, user, err := a.TestLogin(context.Background())
	if err != nil {
		t.Fatalf("TestLogin() error = %v", err)
	}
	if user.Email != testEmail {
		t.Errorf("user = %+v", user)
	}

	id, err := a.Authenticate(context.Background(), token)
	if err != nil {
		t.Fatalf("Authenticate(issued) error = %v", err)
	}
	if id.UserID != user.ID || id.Subject != testSubject {
		t.Errorf("identity = %+v, want user %s", id, user.ID)
	}
}

func TestTestLogin_Disabled(t *testing.T) {
	a, _ := newTestAuthenticator(false)
	if _, _, err := a.TestLogin(context.Background()); !errors.Is(err, ErrDevDisabled) {
		t.Errorf("TestLogin() error = %v, want ErrDevDisabled", err)
	}
}

// ============================================================================
// Sign-in
// ============================================================================

// fakeVerifier accepts the credentials it has profiles for.
type fakeVerifier struct {
	profiles map[string]VerifiedIdentity
	err      error
}

func (f *fakeVerifier) Verify(_ context.Context, credential string) (VerifiedIdentity, error) {
	if f.err != nil {
		return VerifiedIdentity{}, f.err
	}
	p, ok := f.profiles[credential]
	if !ok {
		return VerifiedIdentity{}, ErrCredentialInvalid
	}
	return p, nil
}

func TestLogin(t *testing.T) {
	a, users := newTestAuthenticator(false)
	a.SetVerifier(&fakeVerifier{profiles: map[string]VerifiedIdentity{
		"cred-1": {Subject: "g-1", Email: "alice@example.com", Name: "Alice", Avatar: "a.png"},
		"cred-2": {Subject: "g-1", Email: "alice@new.example.com", Name: "Alice B"},
	}})
	ctx := context.Background()

	token, user, err := a.Login(ctx, "cred-1")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if user.Subject != "g-1" || user.Email != "alice@example.com" || user.Avatar != "a.png" {
		t.Errorf("user = %+v", user)
	}
	id, err := a.Authenticate(ctx, token)
	if err != nil {
		t.Fatalf("Authenticate(issued) error = %v", err)
	}
	if id != (Identity{UserID: user.ID, Email: "alice@example.com", Subject: "g-1"}) {
		t.Errorf("identity = %+v", id)
	}

	_, again, err := a.Login(ctx, "cred-2")
	if err != nil {
		t.Fatalf("second Login() error = %v", err)
	}
	if again.ID != user.ID || again.Email != "alice@new.example.com" || again.Name != "Alice B" {
		t.Errorf("refreshed user = %+v, want same id %s with new profile", again, user.ID)
	}
	if users.upserts != 2 || users.calls != 0 {
		t.Errorf("upserts = %d, dev provisions = %d, want 2 and 0", users.upserts, users.calls)
	}
}

func TestLogin_Errors(t *testing.T) {
	tests := []struct {
		name       string
		verifier   IdentityVerifier
		credential string
		storeErr   error
		wantErr    error
	}{
		{"not configured", nil, "cred", nil, ErrSignInDisabled},
		{"empty credential", &fakeVerifier{}, "", nil, ErrCredentialInvalid},
		{"rejected credential", &fakeVerifier{}, "forged", nil, ErrCredentialInvalid},
		{"verifier down", &fakeVerifier{err: ErrVerifierUnavailable}, "cred", nil, ErrVerifierUnavailable},
		{
			name:       "profile without email",
			verifier:   &fakeVerifier{profiles: map[string]VerifiedIdentity{"cred": {Subject: "g-1"}}},
			credential: "cred",
			wantErr:    ErrCredentialInvalid,
		},
		{
			name:       "store failure",
			verifier:   &fakeVerifier{profiles: map[string]VerifiedIdentity{"cred": {Subject: "g-1", Email: "a@example.com"}}},
			credential: "cred",
			storeErr:   access.ErrStore,
			wantErr:    access.ErrStore,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, users := newTestAuthenticator(false)
			users.err = tt.storeErr
			if tt.verifier != nil {
				a.SetVerifier(tt.verifier)
			}

			token, _, err := a.Login(context.Background(), tt.credential)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Login() error = %v, want %v", err, tt.wantErr)
			}
			if token != "" {
				t.Error("no token expected on failure")
			}
		})
	}
}

func TestIdentityContext(t *testing.T) {
	if _, ok := IdentityFrom(context.Background()); ok {
		t.Error("empty context should carry no identity")
	}
	want := Identity{UserID: "usr-1"}
	got, ok := IdentityFrom(WithIdentity(context.Background(), want))
	if !ok || got != want {
		t.Errorf("IdentityFrom() = %+v, %v", got, ok)
	}
}
