package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-loopover-backend/internal/domain"
	"github.com/tbourn/go-loopover-backend/internal/identity"
	"github.com/tbourn/go-loopover-backend/internal/repo"
)

type fakeProvider struct {
	name    string
	profile *identity.Profile
	err     error

	gotCode        string
	gotRedirectURI string
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Exchange(ctx context.Context, code, redirectURI string) (*identity.Profile, error) {
	p.gotCode, p.gotRedirectURI = code, redirectURI
	return p.profile, p.err
}

func newAuthDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("auth_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := db.AutoMigrate(&domain.User{}, &domain.Session{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestLogin_UnknownProvider(t *testing.T) {
	svc := NewAuthService(newAuthDB(t), &fakeProvider{name: "google"})
	if _, err := svc.Login(context.Background(), "github", "code", "uri"); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestLogin_ProviderErrorPassesThrough(t *testing.T) {
	boom := errors.New("upstream 503")
	svc := NewAuthService(newAuthDB(t), &fakeProvider{name: "google", err: boom})
	if _, err := svc.Login(context.Background(), "google", "code", "uri"); !errors.Is(err, boom) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestLogin_CreatesUserAndSession(t *testing.T) {
	db := newAuthDB(t)
	p := &fakeProvider{name: "discord", profile: &identity.Profile{
		Provider:    "discord",
		UID:         "123456",
		Name:        "solver#0042",
		AvatarURL:   "https://cdn.example/a.png",
		AccessToken: "at-1",
	}}
	svc := NewAuthService(db, p)

	res, err := svc.Login(context.Background(), "discord", "the-code", "https://app/callback")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if p.gotCode != "the-code" || p.gotRedirectURI != "https://app/callback" {
		t.Fatalf("provider called with %q %q", p.gotCode, p.gotRedirectURI)
	}
	if res.Name != "solver#0042" || res.AvatarURL != "https://cdn.example/a.png" {
		t.Fatalf("unexpected login result: %+v", res)
	}
	if res.Token == "" {
		t.Fatalf("expected a session token")
	}

	sess, err := repo.ResolveSession(context.Background(), db, res.Token)
	if err != nil {
		t.Fatalf("session not persisted: %v", err)
	}
	user, err := repo.GetUser(context.Background(), db, sess.UserID)
	if err != nil {
		t.Fatalf("user not persisted: %v", err)
	}
	if user.Provider != "discord" || user.UID != "123456" {
		t.Fatalf("unexpected user row: %+v", user)
	}
}

func TestLogin_RepeatLoginReusesUserRow(t *testing.T) {
	db := newAuthDB(t)
	p := &fakeProvider{name: "google", profile: &identity.Profile{
		Provider: "google", UID: "sub-1", Name: "Alice",
	}}
	svc := NewAuthService(db, p)

	first, err := svc.Login(context.Background(), "google", "c1", "uri")
	if err != nil {
		t.Fatalf("first Login: %v", err)
	}
	p.profile.Name = "Alice Renamed"
	second, err := svc.Login(context.Background(), "google", "c2", "uri")
	if err != nil {
		t.Fatalf("second Login: %v", err)
	}
	if first.Token == second.Token {
		t.Fatalf("each login must mint a fresh token")
	}
	if second.Name != "Alice Renamed" {
		t.Fatalf("profile refresh not applied: %+v", second)
	}

	var count int64
	if err := db.Model(&domain.User{}).Count(&count).Error; err != nil {
		t.Fatalf("count users: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one user row, got %d", count)
	}
}

func TestProfile_ReturnsUser(t *testing.T) {
	db := newAuthDB(t)
	p := &fakeProvider{name: "google", profile: &identity.Profile{
		Provider: "google", UID: "sub-2", Name: "Bob", AvatarURL: "https://p/a.png",
	}}
	svc := NewAuthService(db, p)

	res, err := svc.Login(context.Background(), "google", "c", "uri")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	sess, err := repo.ResolveSession(context.Background(), db, res.Token)
	if err != nil {
		t.Fatalf("ResolveSession: %v", err)
	}

	user, err := svc.Profile(context.Background(), sess.UserID)
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if user.Name != "Bob" || user.AvatarURL != "https://p/a.png" {
		t.Fatalf("unexpected profile: %+v", user)
	}
}

func TestNewSessionToken_Unique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 32; i++ {
		tok, err := newSessionToken()
		if err != nil {
			t.Fatalf("newSessionToken: %v", err)
		}
		if tok == "" || seen[tok] {
			t.Fatalf("token %q empty or repeated", tok)
		}
		seen[tok] = true
	}
}
