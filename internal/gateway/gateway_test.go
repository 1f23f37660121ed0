package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/gobutler/internal/agent"
	"github.com/nextlevelbuilder/gobutler/internal/config"
	"github.com/nextlevelbuilder/gobutler/internal/store"
	"github.com/nextlevelbuilder/gobutler/internal/webhook"
)

type fakeEvents struct {
	processed map[int64]bool
}

func (f *fakeEvents) Insert(_ context.Context, _ *store.WebhookEvent) (int64, error) {
	return 42, nil
}

func (f *fakeEvents) MarkProcessed(_ context.Context, id int64, sent bool) error {
	if f.processed == nil {
		f.processed = make(map[int64]bool)
	}
	f.processed[id] = sent
	return nil
}

type noopBroadcaster struct{}

func (noopBroadcaster) Broadcast(_ context.Context, _, _ string) (int, error) { return 0, nil }

func testServer(secret, authToken string) *Server {
	cfg := config.Default()
	cfg.Webhook.Secret = secret
	cfg.Server.AuthToken = authToken
	hooks := webhook.NewService(&fakeEvents{}, noopBroadcaster{}, nil)
	return NewServer(cfg, nil, hooks, nil, nil)
}

func TestHealth(t *testing.T) {
	srv := testServer("", "tok")
	rec := httptest.NewRecorder()
	srv.BuildMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health: %d", rec.Code)
	}
}

func TestWebhookSecretRequired(t *testing.T) {
	body := `{"event_type": "state_changed", "entity_id": "light.kitchen"}`

	t.Run("unconfigured secret rejects all", func(t *testing.T) {
		srv := testServer("", "tok")
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/webhooks/ha", strings.NewReader(body))
		req.Header.Set("X-Webhook-Secret", "anything")
		srv.BuildMux().ServeHTTP(rec, req)
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("got %d, want 503", rec.Code)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		srv := testServer("s3cret", "tok")
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/webhooks/ha", strings.NewReader(body))
		req.Header.Set("X-Webhook-Secret", "wrong")
		srv.BuildMux().ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("got %d, want 401", rec.Code)
		}
	})

	t.Run("correct secret ingests", func(t *testing.T) {
		srv := testServer("s3cret", "tok")
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/webhooks/ha", strings.NewReader(body))
		req.Header.Set("X-Webhook-Secret", "s3cret")
		srv.BuildMux().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("got %d: %s", rec.Code, rec.Body.String())
		}
		if !strings.Contains(rec.Body.String(), `"event_id":42`) {
			t.Errorf("body: %s", rec.Body.String())
		}
		// A quiet state change is persisted without fan-out.
		if !strings.Contains(rec.Body.String(), `"status":"ignored"`) {
			t.Errorf("body: %s", rec.Body.String())
		}
	})
}

func TestBearerAuth(t *testing.T) {
	srv := testServer("", "tok")

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"missing token", "", "", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", "", http.StatusUnauthorized},
		{"malformed header", "tok", "", http.StatusUnauthorized},
		// 400 from body validation means auth itself passed.
		{"query token for websocket-style clients", "", "?token=tok", http.StatusBadRequest},
		{"correct bearer", "Bearer tok", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/chat"+tt.query, strings.NewReader("{}"))
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			srv.BuildMux().ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("got %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

type fakeUsers struct {
	store.UserStore
	upserted []*store.User
}

func (f *fakeUsers) RedeemInvite(_ context.Context, _, _ string) (bool, error) { return true, nil }

func (f *fakeUsers) Upsert(_ context.Context, u *store.User) error {
	f.upserted = append(f.upserted, u)
	return nil
}

func TestRegisterCreatesNotifiableUser(t *testing.T) {
	users := &fakeUsers{}
	srv := NewServer(config.Default(), nil, nil, users, nil)

	body := `{"invite_code": "abc123", "user_id": "alice", "name": "Alice", "phone": "+111"}`
	rec := httptest.NewRecorder()
	srv.BuildMux().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/register", strings.NewReader(body)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("got %d: %s", rec.Code, rec.Body.String())
	}

	if len(users.upserted) != 1 {
		t.Fatalf("upserted %d users", len(users.upserted))
	}
	u := users.upserted[0]
	if u.ID != "alice" || u.Phone != "+111" || u.Role != store.RoleUser {
		t.Errorf("user: %+v", u)
	}
	// New accounts start notifiable; opting out is an explicit prefs update.
	if !u.NotifyPrefs.Enabled {
		t.Error("new user created with notifications disabled")
	}
}

type fakeTurns struct {
	requests []agent.TurnRequest
}

func (f *fakeTurns) Chat(_ context.Context, req agent.TurnRequest) (string, error) {
	f.requests = append(f.requests, req)
	return "ok", nil
}

func (f *fakeTurns) ChatStream(_ context.Context, req agent.TurnRequest, _ func(string)) (string, error) {
	f.requests = append(f.requests, req)
	return "ok", nil
}

func (f *fakeTurns) ChatEvents(_ context.Context, req agent.TurnRequest, _ func(agent.Event)) (string, error) {
	f.requests = append(f.requests, req)
	return "ok", nil
}

func TestChatChannelDefaults(t *testing.T) {
	turns := &fakeTurns{}
	cfg := config.Default()
	cfg.Server.AuthToken = "tok"
	srv := NewServer(cfg, turns, nil, nil, nil)
	mux := srv.BuildMux()

	post := func(path, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer tok")
		mux.ServeHTTP(rec, req)
		return rec
	}

	// Batch text chat records under the pwa channel.
	if rec := post("/api/chat", `{"user_id": "u", "message": "hi"}`); rec.Code != http.StatusOK {
		t.Fatalf("chat: %d %s", rec.Code, rec.Body.String())
	}
	if got := turns.requests[0].Channel; got != store.ChannelPWA {
		t.Errorf("batch channel %q, want %q", got, store.ChannelPWA)
	}

	// The SSE stream is the voice modality.
	if rec := post("/api/chat/stream", `{"user_id": "u", "message": "hi"}`); rec.Code != http.StatusOK {
		t.Fatalf("stream: %d", rec.Code)
	}
	if got := turns.requests[1].Channel; got != store.ChannelVoice {
		t.Errorf("stream channel %q, want %q", got, store.ChannelVoice)
	}

	// An explicit channel wins over the default.
	post("/api/chat", `{"user_id": "u", "channel": "telegram", "message": "hi"}`)
	if got := turns.requests[2].Channel; got != store.ChannelTelegram {
		t.Errorf("explicit channel %q, want %q", got, store.ChannelTelegram)
	}
}

func TestClientLimiter(t *testing.T) {
	l := NewClientLimiter(60) // 1 rps, burst 5

	allowed := 0
	for i := 0; i < 10; i++ {
		if l.Allow("1.2.3.4") {
			allowed++
		}
	}
	if allowed != 5 {
		t.Errorf("burst allowed %d, want 5", allowed)
	}

	// Separate clients get their own buckets.
	if !l.Allow("5.6.7.8") {
		t.Error("fresh client rejected")
	}

	// Disabled limiter always allows.
	var disabled *ClientLimiter
	if !disabled.Allow("x") {
		t.Error("nil limiter must allow")
	}
}
