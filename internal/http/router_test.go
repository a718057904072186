package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-loopover-backend/internal/config"
	"github.com/tbourn/go-loopover-backend/internal/domain"
	"github.com/tbourn/go-loopover-backend/internal/http/middleware"
	"github.com/tbourn/go-loopover-backend/internal/repo"
)

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T, name string) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.User{}, &domain.Session{}, &domain.Solve{}, &domain.Idempotency{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testConfig() config.Config {
	return config.Config{
		APIBasePath:    "/",
		BodyLimit:      512 << 10,
		RateRPS:        100,
		RateBurst:      10,
		IdempotencyTTL: 24 * time.Hour,
		CORS:           config.CORSConfig{AllowedOrigins: nil}, // allow-all branch
		Security:       config.SecurityConfig{EnableHSTS: false, HSTSMaxAge: 0},
		OTEL:           config.OTELConfig{ServiceName: "test-svc"},
	}
}

// seedAccount creates a user plus an active session and returns (userID, token).
func seedAccount(t *testing.T, db *gorm.DB) (string, string) {
	t.Helper()
	ctx := context.Background()
	u, err := repo.UpsertUser(ctx, db, domain.User{
		Provider: "discord",
		UID:      "uid-1",
		Name:     "solver",
	})
	if err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	if _, err := repo.CreateSession(ctx, db, "router-tok", u.ID); err != nil {
		t.Fatalf("create session: %v", err)
	}
	return u.ID, "router-tok"
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	db := newTestDB(t, "routerdb1")

	RegisterRoutes(r, db, nil, testConfig())

	// /health works
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	// CORS (AllowAllOrigins) → header "*"
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}

	// /metrics is wired
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || len(w.Body.Bytes()) == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	// NoRoute → 404 envelope
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/nope", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}
	var envelope map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("NoRoute body not JSON: %v", err)
	}
	if envelope["code"] != "not_found" {
		t.Fatalf("NoRoute envelope: %v", envelope)
	}

	// NoMethod → 405 (PATCH /health)
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPatch, "/health", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("PATCH /health expected 405, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	db := newTestDB(t, "routerdb2")

	cfg := testConfig()
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	RegisterRoutes(r, db, nil, cfg)

	// Any request runs through CORS middleware; header should reflect origin.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://example.com")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}
}

func TestRegisterRoutes_SessionRequired(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	db := newTestDB(t, "routerdb3")
	RegisterRoutes(r, db, nil, testConfig())

	for _, tc := range []struct {
		method string
		target string
	}{
		{http.MethodGet, "/me"},
		{http.MethodPost, "/sync"},
		{http.MethodPut, "/sync"},
		{http.MethodDelete, "/sync"},
	} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(tc.method, tc.target, bytes.NewBufferString("[]"))
		r.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s without token expected 401, got %d", tc.method, tc.target, w.Code)
		}
	}

	// Unknown token is rejected the same way.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-session")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unknown token expected 401, got %d", w.Code)
	}
}

// End-to-end sync flow against a real database: push solves, pull them back,
// check the public histogram, then delete.
func TestRegisterRoutes_SyncRoundTrip(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	db := newTestDB(t, "routerdb4")
	RegisterRoutes(r, db, nil, testConfig())

	_, token := seedAccount(t, db)
	bearer := "Bearer " + token

	// Push two finished solves (verbose move format: no Api-Version header).
	push := `[
		{"startTime": 1000, "event": "3x3", "time": 11000,
		 "moves": [{"axis": "row", "index": 0, "n": 1, "time": 100}]},
		{"startTime": 2000, "event": "3x3", "time": 13000,
		 "moves": [{"axis": "col", "index": 1, "n": -2, "time": 150}]}
	]`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/sync", bytes.NewBufferString(push))
	req.Header.Set("Authorization", bearer)
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("PUT /sync = %d body=%s", w.Code, w.Body.String())
	}

	// Pull with one known id: the other must come back in full.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/sync", bytes.NewBufferString("[1000]"))
	req.Header.Set("Authorization", bearer)
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("POST /sync = %d body=%s", w.Code, w.Body.String())
	}
	var pull struct {
		Missing []int64           `json:"missing"`
		Solves  []json.RawMessage `json:"solves"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &pull); err != nil {
		t.Fatalf("pull body: %v", err)
	}
	if len(pull.Missing) != 0 {
		t.Fatalf("nothing should be missing, got %v", pull.Missing)
	}
	if len(pull.Solves) != 1 {
		t.Fatalf("expected 1 unknown solve, got %d", len(pull.Solves))
	}
	var solve struct {
		StartTime int64 `json:"startTime"`
	}
	_ = json.Unmarshal(pull.Solves[0], &solve)
	if solve.StartTime != 2000 {
		t.Fatalf("expected solve 2000, got %d", solve.StartTime)
	}

	// Public statistics endpoint needs no session.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/statistics/3x3/time", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /statistics = %d body=%s", w.Code, w.Body.String())
	}
	var hist struct {
		Labels []int     `json:"labels"`
		Data   []float64 `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &hist); err != nil {
		t.Fatalf("histogram body: %v", err)
	}
	if len(hist.Labels) == 0 || len(hist.Labels) != len(hist.Data) {
		t.Fatalf("unexpected histogram: %+v", hist)
	}

	// Delete one, then the pull reports it as gone.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodDelete, "/sync", bytes.NewBufferString("[2000]"))
	req.Header.Set("Authorization", bearer)
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("DELETE /sync = %d body=%s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/sync", bytes.NewBufferString("[1000, 2000]"))
	req.Header.Set("Authorization", bearer)
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("POST /sync after delete = %d", w.Code)
	}
	pull.Missing, pull.Solves = nil, nil
	_ = json.Unmarshal(w.Body.Bytes(), &pull)
	if len(pull.Missing) != 1 || pull.Missing[0] != 2000 {
		t.Fatalf("expected missing [2000], got %v", pull.Missing)
	}
}

// A repeated PUT /sync with the same Idempotency-Key must not insert twice.
func TestRegisterRoutes_IdempotentPush(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	db := newTestDB(t, "routerdb5")
	RegisterRoutes(r, db, nil, testConfig())

	userID, token := seedAccount(t, db)
	body := `[{"startTime": 5000, "event": "4x4", "time": 42000, "moves": []}]`

	do := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPut, "/sync", bytes.NewBufferString(body))
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(middleware.HeaderIdempotencyKey, "push-once")
		r.ServeHTTP(w, req)
		return w
	}

	if w := do(); w.Code != http.StatusNoContent {
		t.Fatalf("first PUT = %d body=%s", w.Code, w.Body.String())
	}
	w := do()
	if w.Code != http.StatusNoContent {
		t.Fatalf("replayed PUT = %d body=%s", w.Code, w.Body.String())
	}
	if w.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("expected replay marker header, got %q", w.Header().Get("Idempotency-Replayed"))
	}

	n, err := repo.CountSolvesByUser(context.Background(), db, userID)
	if err != nil {
		t.Fatalf("count solves: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected a single stored solve, got %d", n)
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	// tiny cap to trigger MaxBytesReader
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")) // 12 bytes
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	// "/" and "" should mount at root
	root1 := groupWithPrefix(r, "/")
	root1.GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	root2 := groupWithPrefix(r, "")
	root2.GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })

	// non-root prefix
	api := groupWithPrefix(r, "/api")
	api.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for _, tc := range []struct{ target, want string }{
		{"/one", "one"},
		{"/two", "two"},
		{"/api/ping", "pong"},
	} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, tc.target, nil)
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK || rec.Body.String() != tc.want {
			t.Fatalf("GET %s got %d %q", tc.target, rec.Code, rec.Body.String())
		}
	}
}

func Test_solveRepoShim_Proxies(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t, "routerdb6")

	shim := solveRepoShim{}
	ctx := context.Background()

	solves := []domain.Solve{
		{UserID: "u1", StartTime: 10, Event: "3x3", Time: 9000},
		{UserID: "u1", StartTime: 20, Event: "3x3", Time: 9500},
	}
	if err := shim.InsertSolves(ctx, db, solves); err != nil {
		t.Fatalf("InsertSolves: %v", err)
	}

	got, err := shim.ListSolvesByUser(ctx, db, "u1")
	if err != nil {
		t.Fatalf("ListSolvesByUser: %v", err)
	}
	if len(got) != 2 || got[0].StartTime != 10 {
		t.Fatalf("ListSolvesByUser got %+v", got)
	}

	if err := shim.DeleteSolvesByUser(ctx, db, "u1", []int64{10}); err != nil {
		t.Fatalf("DeleteSolvesByUser: %v", err)
	}
	got, err = shim.ListSolvesByUser(ctx, db, "u1")
	if err != nil {
		t.Fatalf("ListSolvesByUser after delete: %v", err)
	}
	if len(got) != 1 || got[0].StartTime != 20 {
		t.Fatalf("expected only solve 20 left, got %+v", got)
	}
}

// Smoke test that a request traverses the tracing, logging, metrics and
// security header pipeline.
func TestPipeline_Smoke(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	cfg := testConfig()
	cfg.Security = config.SecurityConfig{EnableHSTS: true, HSTSMaxAge: time.Hour} // only set on https
	db := newTestDB(t, "routerdb7")
	RegisterRoutes(r, db, nil, cfg)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("pipeline GET /health = %d", w.Code)
	}
	// RequestID header should be present (from RequestID middleware)
	if rid := w.Header().Get("X-Request-ID"); rid == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
}

func Test_idempotencyLookup_HitMissAndErrorAsMiss(t *testing.T) {
	db := newTestDB(t, "routerdb8")
	ctx := context.Background()
	now := time.Now().UTC()

	lookup := idempotencyLookup(db)

	if exists, err := lookup(ctx, "u1", "k-1", now); err != nil || exists {
		t.Fatalf("empty store should miss: exists=%v err=%v", exists, err)
	}

	if _, err := repo.CreateIdempotency(ctx, db, "u1", "k-1", http.StatusNoContent, time.Hour); err != nil {
		t.Fatalf("seed record: %v", err)
	}
	if exists, err := lookup(ctx, "u1", "k-1", now); err != nil || !exists {
		t.Fatalf("seeded record should hit: exists=%v err=%v", exists, err)
	}
	// Another user's identical key must not match.
	if exists, _ := lookup(ctx, "u2", "k-1", now); exists {
		t.Fatalf("record must be scoped per user")
	}

	// A dead connection degrades to a miss, never an error.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	_ = sqlDB.Close()
	if exists, err := lookup(ctx, "u1", "k-1", now); err != nil || exists {
		t.Fatalf("lookup error should read as miss: exists=%v err=%v", exists, err)
	}
}

func Test_idempotencyStore_DuplicateIsSuccess(t *testing.T) {
	db := newTestDB(t, "routerdb9")
	ctx := context.Background()

	store := idempotencyStore(db, time.Hour)
	if err := store(ctx, "u1", "k-1", http.StatusNoContent); err != nil {
		t.Fatalf("first store: %v", err)
	}
	// A racing retry hits the unique index; that still counts as recorded.
	if err := store(ctx, "u1", "k-1", http.StatusNoContent); err != nil {
		t.Fatalf("duplicate store should succeed: %v", err)
	}
}

// Authenticated traffic is limited per user, so one client draining its
// bucket must not starve another user behind the same address.
func TestRegisterRoutes_RateLimitKeyedPerUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	db := newTestDB(t, "routerdb10")

	cfg := testConfig()
	cfg.RateRPS = 0 // no refill: each bucket holds exactly one token
	cfg.RateBurst = 1
	RegisterRoutes(r, db, nil, cfg)

	_, tokenA := seedAccount(t, db)
	ctx := context.Background()
	userB, err := repo.UpsertUser(ctx, db, domain.User{
		Provider: "google",
		UID:      "uid-2",
		Name:     "second solver",
	})
	if err != nil {
		t.Fatalf("upsert second user: %v", err)
	}
	if _, err := repo.CreateSession(ctx, db, "router-tok-2", userB.ID); err != nil {
		t.Fatalf("create second session: %v", err)
	}

	me := func(token string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		r.ServeHTTP(w, req)
		return w.Code
	}

	if code := me(tokenA); code != http.StatusOK {
		t.Fatalf("first request for user A = %d", code)
	}
	if code := me(tokenA); code != http.StatusTooManyRequests {
		t.Fatalf("second request for user A expected 429, got %d", code)
	}
	// Same client IP, different session: a fresh bucket.
	if code := me("router-tok-2"); code != http.StatusOK {
		t.Fatalf("user B should not share user A's bucket, got %d", code)
	}
}
