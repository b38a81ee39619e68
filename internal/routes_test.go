package internal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"

	"climbcrew/internal/attendance"
	"climbcrew/internal/crew"
	"climbcrew/internal/invalidate"
	"climbcrew/internal/ratelimit"
	"climbcrew/internal/storage/memory"
)

const (
	testSecret = "test-secret"
	testCookie = "crew_token"
	testSweep  = "sweep-me"
)

type harness struct {
	t      *testing.T
	router *gin.Engine
	clock  time.Time
}

func newHarness(t *testing.T, limiter *ratelimit.Limiter) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{t: t, clock: time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)}
	now := func() time.Time { return h.clock }

	store := memory.New()
	crews := crew.NewService(store, logger, crew.WithClock(now))
	att := attendance.NewService(store, crews, &invalidate.Recorder{}, logger, attendance.WithClock(now))
	h.router = Router(Deps{
		Crews:      crews,
		Attendance: att,
		Limiter:    limiter,
		Logger:     logger,
		JWTSecret:  testSecret,
		AuthCookie: testCookie,
		SweepToken: testSweep,
	})
	return h
}

func signToken(t *testing.T, method jwt.SigningMethod, key any, sub string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(method, jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(exp),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	})
	s, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func bearer(t *testing.T, user string) string {
	return "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), user, time.Now().Add(time.Hour))
}

type response struct {
	Code int
	Body map[string]any
	Raw  []byte
	Head http.Header
}

func (h *harness) do(method, path, user string, body any, headers ...string) response {
	h.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			h.t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("Authorization", bearer(h.t, user))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)

	res := response{Code: w.Code, Raw: w.Body.Bytes(), Head: w.Header()}
	_ = json.Unmarshal(res.Raw, &res.Body)
	return res
}

func (h *harness) must(res response, want int) response {
	h.t.Helper()
	if res.Code != want {
		h.t.Fatalf("status got = %d, want %d; body %s", res.Code, want, res.Raw)
	}
	return res
}

func wantError(t *testing.T, res response, status int, code string) {
	t.Helper()
	if res.Code != status || res.Body["code"] != code {
		t.Fatalf("got %d %v, want %d %s; body %s", res.Code, res.Body["code"], status, code, res.Raw)
	}
}

func resID(res response) int64 {
	v, _ := res.Body["id"].(float64)
	return int64(v)
}

func TestAuthRequired(t *testing.T) {
	h := newHarness(t, nil)

	wantError(t, h.do(http.MethodPost, "/api/crews", "", map[string]any{"name": "x"}), http.StatusUnauthorized, "UNAUTHORIZED")

	expired := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), "alice", time.Now().Add(-time.Minute))
	wantError(t, h.do(http.MethodPost, "/api/crews", "", map[string]any{"name": "x"}, "Authorization", "Bearer "+expired),
		http.StatusUnauthorized, "UNAUTHORIZED")

	wrongKey := signToken(t, jwt.SigningMethodHS256, []byte("other"), "alice", time.Now().Add(time.Hour))
	wantError(t, h.do(http.MethodPost, "/api/crews", "", map[string]any{"name": "x"}, "Authorization", "Bearer "+wrongKey),
		http.StatusUnauthorized, "UNAUTHORIZED")

	noSub := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), "", time.Now().Add(time.Hour))
	wantError(t, h.do(http.MethodPost, "/api/crews", "", map[string]any{"name": "x"}, "Authorization", "Bearer "+noSub),
		http.StatusUnauthorized, "UNAUTHORIZED")
}

func TestCookieAuthAndRequestID(t *testing.T) {
	h := newHarness(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/me/profile", bytes.NewReader([]byte(`{"nickname":"Ali"}`)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "req-123")
	req.AddCookie(&http.Cookie{Name: testCookie, Value: signToken(t, jwt.SigningMethodHS256, []byte(testSecret), "alice", time.Now().Add(time.Hour))})
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status got = %d; body %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("X-Request-ID"); got != "req-123" {
		t.Errorf("request id got = %q", got)
	}

	res := h.do(http.MethodGet, "/healthz", "", nil)
	if res.Code != http.StatusOK || res.Head.Get("X-Request-ID") == "" {
		t.Errorf("healthz got %d with request id %q", res.Code, res.Head.Get("X-Request-ID"))
	}
}

func TestCrewJoinFlow(t *testing.T) {
	h := newHarness(t, nil)

	wantError(t, h.do(http.MethodPost, "/api/crews", "leader", map[string]any{"name": "Crimpers"}),
		http.StatusForbidden, "ONBOARDING_REQUIRED")

	h.must(h.do(http.MethodPost, "/api/me/profile", "leader", map[string]any{"nickname": "Lead"}), http.StatusOK)
	created := h.must(h.do(http.MethodPost, "/api/crews", "leader", map[string]any{
		"name": "Crimpers", "visibility": "private",
	}), http.StatusCreated)
	crewID := resID(created)
	code, _ := created.Body["invite_code"].(string)
	if len(code) != 6 {
		t.Fatalf("invite code got = %q", code)
	}

	wantError(t, h.do(http.MethodPost, "/api/crews/join", "alice", map[string]any{"code": code}),
		http.StatusForbidden, "ONBOARDING_REQUIRED")
	h.must(h.do(http.MethodPost, "/api/me/profile", "alice", map[string]any{"nickname": "Ali"}), http.StatusOK)

	wantError(t, h.do(http.MethodPost, "/api/crews/join", "alice", map[string]any{"code": "ab!"}),
		http.StatusBadRequest, "INVALID_CODE_FORMAT")
	wantError(t, h.do(http.MethodPost, fmt.Sprintf("/api/crews/%d/join", crewID), "alice", nil),
		http.StatusForbidden, "CREW_PRIVATE")
	wantError(t, h.do(http.MethodGet, fmt.Sprintf("/api/crews/%d", crewID), "alice", nil),
		http.StatusForbidden, "CREW_PRIVATE")

	joined := h.must(h.do(http.MethodPost, "/api/crews/join", "alice", map[string]any{"code": code}), http.StatusOK)
	if joined.Body["role"] != "member" {
		t.Errorf("role got = %v", joined.Body["role"])
	}
	wantError(t, h.do(http.MethodPost, "/api/crews/join", "alice", map[string]any{"code": code}),
		http.StatusConflict, "ALREADY_MEMBER")

	view := h.must(h.do(http.MethodGet, fmt.Sprintf("/api/crews/%d", crewID), "alice", nil), http.StatusOK)
	if _, ok := view.Body["invite_code"]; ok {
		t.Errorf("member sees invite code: %s", view.Raw)
	}
	view = h.must(h.do(http.MethodGet, fmt.Sprintf("/api/crews/%d", crewID), "leader", nil), http.StatusOK)
	if view.Body["invite_code"] != code {
		t.Errorf("leader invite code got = %v", view.Body["invite_code"])
	}

	members := h.must(h.do(http.MethodGet, fmt.Sprintf("/api/crews/%d/members", crewID), "alice", nil), http.StatusOK)
	var list []crew.Membership
	if err := json.Unmarshal(members.Raw, &list); err != nil || len(list) != 2 {
		t.Errorf("members got = %s (%v)", members.Raw, err)
	}

	inv := h.must(h.do(http.MethodPost, fmt.Sprintf("/api/crews/%d/invites", crewID), "leader", map[string]any{"max_uses": 1}), http.StatusCreated)
	h.must(h.do(http.MethodPost, "/api/me/profile", "bob", map[string]any{"nickname": "Bob"}), http.StatusOK)
	h.must(h.do(http.MethodPost, "/api/me/profile", "cara", map[string]any{"nickname": "Cara"}), http.StatusOK)
	h.must(h.do(http.MethodPost, "/api/crews/join", "bob", map[string]any{"code": inv.Body["code"]}), http.StatusOK)
	wantError(t, h.do(http.MethodPost, "/api/crews/join", "cara", map[string]any{"code": inv.Body["code"]}),
		http.StatusConflict, "INVITE_EXHAUSTED")

	wantError(t, h.do(http.MethodPost, fmt.Sprintf("/api/crews/%d/leave", crewID), "leader", nil),
		http.StatusConflict, "LEADER_CANNOT_LEAVE")
	h.must(h.do(http.MethodPost, fmt.Sprintf("/api/crews/%d/leader", crewID), "leader", map[string]any{"user_id": "alice"}), http.StatusOK)
	h.must(h.do(http.MethodPost, fmt.Sprintf("/api/crews/%d/leave", crewID), "leader", nil), http.StatusOK)
}

func setupCrewWithSchedule(t *testing.T, h *harness, capacity int, members ...string) (crewID, scheduleID, phaseID int64) {
	t.Helper()
	h.must(h.do(http.MethodPost, "/api/me/profile", "leader", map[string]any{"nickname": "Lead"}), http.StatusOK)
	crewID = resID(h.must(h.do(http.MethodPost, "/api/crews", "leader", map[string]any{"name": "Wall"}), http.StatusCreated))
	for _, m := range members {
		h.must(h.do(http.MethodPost, "/api/me/profile", m, map[string]any{"nickname": m}), http.StatusOK)
		h.must(h.do(http.MethodPost, fmt.Sprintf("/api/crews/%d/join", crewID), m, nil), http.StatusOK)
	}
	start := h.clock.Add(24 * time.Hour)
	sched := h.must(h.do(http.MethodPost, fmt.Sprintf("/api/crews/%d/schedules", crewID), "leader", map[string]any{
		"title": "Friday",
		"date":  start,
		"phases": []map[string]any{
			{"type": "exercise", "location": "Gym", "starts_at": start, "ends_at": start.Add(2 * time.Hour), "capacity": capacity},
		},
	}), http.StatusCreated)
	phases, _ := sched.Body["phases"].([]any)
	if len(phases) != 1 {
		t.Fatalf("phases got = %s", sched.Raw)
	}
	phaseID = int64(phases[0].(map[string]any)["id"].(float64))
	return crewID, resID(sched), phaseID
}

func TestAttendanceFlow(t *testing.T) {
	h := newHarness(t, nil)
	_, scheduleID, phaseID := setupCrewWithSchedule(t, h, 1, "alice", "bob")
	rsvpPath := fmt.Sprintf("/api/phases/%d/rsvp", phaseID)

	wantError(t, h.do(http.MethodPost, rsvpPath, "alice", map[string]any{"status": "late"}),
		http.StatusBadRequest, "INVALID_STATUS")
	wantError(t, h.do(http.MethodPost, rsvpPath, "stranger", map[string]any{"status": "attending"}),
		http.StatusForbidden, "NOT_MEMBER")

	alice := h.must(h.do(http.MethodPost, rsvpPath, "alice", map[string]any{"status": "attending", "note": "bringing rope"}), http.StatusOK)
	bob := h.must(h.do(http.MethodPost, rsvpPath, "bob", map[string]any{"status": "attending"}), http.StatusOK)
	if bob.Body["status"] != "waiting" || bob.Body["waitlist_position"] != float64(1) {
		t.Fatalf("bob got = %s", bob.Raw)
	}

	wantError(t, h.do(http.MethodPost, fmt.Sprintf("/api/attendances/%d/promote", resID(bob)), "leader", nil),
		http.StatusConflict, "PHASE_FULL")

	capacity := h.must(h.do(http.MethodPut, fmt.Sprintf("/api/phases/%d/capacity", phaseID), "leader", map[string]any{"capacity": 2}), http.StatusOK)
	promoted, _ := capacity.Body["promoted"].([]any)
	if len(promoted) != 1 {
		t.Fatalf("capacity response got = %s", capacity.Raw)
	}
	wantError(t, h.do(http.MethodPut, fmt.Sprintf("/api/phases/%d/capacity", phaseID), "leader", map[string]any{}),
		http.StatusBadRequest, "VALIDATION_ERROR")

	roster := h.must(h.do(http.MethodGet, fmt.Sprintf("/api/phases/%d/attendance", phaseID), "bob", nil), http.StatusOK)
	records, _ := roster.Body["attendances"].([]any)
	if len(records) != 2 {
		t.Fatalf("roster got = %s", roster.Raw)
	}

	checkIn := fmt.Sprintf("/api/attendances/%d/check-in", resID(alice))
	wantError(t, h.do(http.MethodPost, checkIn, "bob", nil), http.StatusForbidden, "FORBIDDEN")
	in := h.must(h.do(http.MethodPost, checkIn, "alice", nil), http.StatusOK)
	if in.Body["checked_in_at"] == nil {
		t.Errorf("check-in got = %s", in.Raw)
	}
	wantError(t, h.do(http.MethodPost, checkIn, "alice", nil), http.StatusConflict, "ALREADY_CHECKED_IN")

	status := fmt.Sprintf("/api/attendances/%d/status", resID(alice))
	wantError(t, h.do(http.MethodPost, status, "leader", map[string]any{"status": "maybe"}), http.StatusBadRequest, "INVALID_STATUS")
	wantError(t, h.do(http.MethodPost, status, "alice", map[string]any{"status": "late"}), http.StatusForbidden, "FORBIDDEN")
	out := h.must(h.do(http.MethodPost, status, "leader", map[string]any{"status": "early_leave", "note": "left at 8"}), http.StatusOK)
	if out.Body["checked_out_at"] == nil || out.Body["admin_note"] != "left at 8" {
		t.Errorf("early leave got = %s", out.Raw)
	}

	detail := h.must(h.do(http.MethodGet, fmt.Sprintf("/api/schedules/%d", scheduleID), "alice", nil), http.StatusOK)
	if detail.Body["title"] != "Friday" {
		t.Errorf("detail got = %s", detail.Raw)
	}
}

func TestSweepEndpoints(t *testing.T) {
	h := newHarness(t, nil)
	_, scheduleID, phaseID := setupCrewWithSchedule(t, h, 0, "alice")
	h.must(h.do(http.MethodPost, fmt.Sprintf("/api/phases/%d/rsvp", phaseID), "alice", map[string]any{"status": "attending"}), http.StatusOK)

	h.clock = h.clock.Add(48 * time.Hour)
	path := fmt.Sprintf("/internal/schedules/%d/no-show", scheduleID)

	wantError(t, h.do(http.MethodPost, path, "", nil), http.StatusForbidden, "FORBIDDEN")
	wantError(t, h.do(http.MethodPost, path, "", nil, "X-Sweep-Token", "nope"), http.StatusForbidden, "FORBIDDEN")

	res := h.must(h.do(http.MethodPost, path, "", nil, "X-Sweep-Token", testSweep), http.StatusOK)
	if res.Body["marked"] != float64(1) {
		t.Errorf("sweep got = %s", res.Raw)
	}

	wantError(t, h.do(http.MethodPost, fmt.Sprintf("/api/schedules/%d/no-show", scheduleID), "alice", nil),
		http.StatusForbidden, "FORBIDDEN")
	res = h.must(h.do(http.MethodPost, fmt.Sprintf("/api/schedules/%d/no-show", scheduleID), "leader", nil), http.StatusOK)
	if res.Body["marked"] != float64(0) {
		t.Errorf("second sweep got = %s", res.Raw)
	}
}

func TestJoinIsRateLimited(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter := ratelimit.New(ratelimit.NewRedisStore(client), ratelimit.Options{FailOpen: true}, nil)
	h := newHarness(t, limiter)

	for i := 0; i < ratelimit.PolicyAuth.Limit; i++ {
		res := h.do(http.MethodPost, "/api/crews/join", "alice", map[string]any{"code": "ZZZZZZ"}, "X-Forwarded-For", "203.0.113.1")
		if res.Code == http.StatusTooManyRequests {
			t.Fatalf("request %d limited early", i+1)
		}
	}
	wantError(t, h.do(http.MethodPost, "/api/crews/join", "alice", map[string]any{"code": "ZZZZZZ"}, "X-Forwarded-For", "203.0.113.1"),
		http.StatusTooManyRequests, "RATE_LIMITED")

	res := h.do(http.MethodPost, "/api/crews/join", "alice", map[string]any{"code": "ZZZZZZ"}, "X-Forwarded-For", "203.0.113.2")
	if res.Code == http.StatusTooManyRequests {
		t.Errorf("other client limited")
	}
}

func TestUnknownRoute(t *testing.T) {
	h := newHarness(t, nil)
	wantError(t, h.do(http.MethodGet, "/nope", "", nil), http.StatusNotFound, "NOT_FOUND")
	wantError(t, h.do(http.MethodGet, "/api/crews/abc", "alice", nil), http.StatusBadRequest, "VALIDATION_ERROR")
}
