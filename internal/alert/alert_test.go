package alert

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"pulsewatch/internal/apperr"
	"pulsewatch/internal/checks"
	"pulsewatch/internal/config"
	"pulsewatch/internal/stats"
	"pulsewatch/internal/storage"
	"pulsewatch/internal/storage/storagetest"
)

const channelID = "123456789012345678"

type posted struct {
	channelID string
	text      string
	embed     *Embed
}

type fakePoster struct {
	mu       sync.Mutex
	messages []posted
	err      error
}

func (p *fakePoster) PostMessage(ctx context.Context, channelID, text string, embed *Embed) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, posted{channelID, text, embed})
	return p.err
}

func (p *fakePoster) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) advance(d time.Duration) { c.now = c.now.Add(d) }

type evalFixture struct {
	st      *storage.Storage
	eval    *Evaluator
	poster  *fakePoster
	clock   *clock
	monitor *storage.Monitor
}

func newEvalFixture(t *testing.T) *evalFixture {
	t.Helper()
	st := storagetest.Open(t)
	c := &clock{now: time.Now().UTC()}
	agg := stats.NewAggregator(st.ORM(), st.Repos)
	agg.Now = c.Now

	poster := &fakePoster{}
	eval := NewEvaluator(st.Repos, agg, poster, NewWebhookSender(2*time.Second))
	eval.Now = c.Now

	return &evalFixture{st: st, eval: eval, poster: poster, clock: c, monitor: storagetest.Monitor(t, st, "u1")}
}

func (f *evalFixture) rule(t *testing.T, in RuleInput) *storage.AlertRule {
	t.Helper()
	rule, err := NewService(f.st.Repos).Create(context.Background(), "u1", f.monitor.ID, in)
	if err != nil {
		t.Fatalf("Failed to create rule: %v", err)
	}
	return rule
}

// check appends a log with the given status and evaluates it like the engine does.
func (f *evalFixture) check(t *testing.T, status string) {
	t.Helper()
	f.clock.advance(time.Minute)
	storagetest.Log(t, f.st, f.monitor.ID, status, 0, f.clock.now)
	if status == storage.StatusDown {
		f.eval.Evaluate(context.Background(), f.monitor, &checks.Result{
			Status: status, Message: "connection refused", CheckedAt: f.clock.now,
		})
	}
}

func TestConsecutiveFailuresAndCooldown(t *testing.T) {
	f := newEvalFixture(t)
	rule := f.rule(t, RuleInput{SinkType: "channel", ChannelID: channelID, ConsecutiveFailures: 3, CooldownSeconds: 600})

	f.check(t, storage.StatusDown)
	f.check(t, storage.StatusDown)
	if n := f.poster.count(); n != 0 {
		t.Fatalf("Expected no alert after 2 failures, got: %d", n)
	}

	f.check(t, storage.StatusDown)
	if n := f.poster.count(); n != 1 {
		t.Fatalf("Expected one alert after 3 failures, got: %d", n)
	}

	for i := 0; i < 5; i++ {
		f.check(t, storage.StatusDown)
	}
	if n := f.poster.count(); n != 1 {
		t.Errorf("Expected cooldown to suppress alerts, got: %d", n)
	}

	f.clock.advance(10 * time.Minute)
	f.check(t, storage.StatusDown)
	if n := f.poster.count(); n != 2 {
		t.Errorf("Expected a second alert after cooldown, got: %d", n)
	}

	stored, _ := f.st.Repos.AlertRules.GetByID(context.Background(), rule.ID)
	if stored.LastTriggered == nil || !stored.LastTriggered.Equal(f.clock.now.Truncate(time.Millisecond)) {
		t.Errorf("Expected last_triggered at %v, got: %v", f.clock.now, stored.LastTriggered)
	}

	events, _ := f.st.Repos.AlertEvents.Count(context.Background(), "rule_id = ? AND delivered = ?", rule.ID, true)
	if events != 2 {
		t.Errorf("Expected two delivered events, got: %d", events)
	}

	msg := f.poster.messages[0]
	if msg.channelID != channelID || msg.embed == nil || msg.embed.Color != ColorRed {
		t.Errorf("Unexpected message: %+v", msg)
	}
}

func TestFailuresMustBeConsecutive(t *testing.T) {
	f := newEvalFixture(t)
	f.rule(t, RuleInput{SinkType: "channel", ChannelID: channelID, ConsecutiveFailures: 3, CooldownSeconds: 60})

	f.check(t, storage.StatusDown)
	f.check(t, storage.StatusDown)
	f.check(t, storage.StatusUp)
	f.check(t, storage.StatusDown)
	f.check(t, storage.StatusDown)

	if n := f.poster.count(); n != 0 {
		t.Errorf("Expected no alert across an up result, got: %d", n)
	}
}

func TestRulesAreIndependent(t *testing.T) {
	f := newEvalFixture(t)
	f.rule(t, RuleInput{SinkType: "channel", ChannelID: channelID, ConsecutiveFailures: 1, CooldownSeconds: 3600})
	f.rule(t, RuleInput{SinkType: "channel", ChannelID: channelID, ConsecutiveFailures: 2, CooldownSeconds: 3600, Mention: "@everyone"})
	inactive := f.rule(t, RuleInput{SinkType: "channel", ChannelID: channelID, ConsecutiveFailures: 1, CooldownSeconds: 60})
	inactiveFlag := false
	NewService(f.st.Repos).Update(context.Background(), "u1", inactive.ID, RulePatch{IsActive: &inactiveFlag})

	f.check(t, storage.StatusDown)
	f.check(t, storage.StatusDown)

	if n := f.poster.count(); n != 2 {
		t.Fatalf("Expected each active rule to fire once, got: %d", n)
	}
	if !strings.HasPrefix(f.poster.messages[1].text, "@everyone ") {
		t.Errorf("Expected mention prefix, got: %q", f.poster.messages[1].text)
	}
}

func TestDispatchFailureStillUpdatesLastTriggered(t *testing.T) {
	f := newEvalFixture(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer server.Close()

	rule := f.rule(t, RuleInput{SinkType: "webhook", WebhookURL: server.URL, ConsecutiveFailures: 1, CooldownSeconds: 600})
	f.check(t, storage.StatusDown)

	stored, _ := f.st.Repos.AlertRules.GetByID(context.Background(), rule.ID)
	if stored.LastTriggered == nil {
		t.Fatal("Expected last_triggered to be set after a failed dispatch")
	}

	event, err := f.st.Repos.AlertEvents.First(context.Background(), "rule_id = ?", rule.ID)
	if err != nil {
		t.Fatalf("Expected an alert event, got: %v", err)
	}
	if event.Delivered || !strings.Contains(event.Error, "500") {
		t.Errorf("Expected undelivered event with status, got: %+v", event)
	}

	// The failed dispatch is not retried on the next failure within cooldown.
	f.check(t, storage.StatusDown)
	n, _ := f.st.Repos.AlertEvents.Count(context.Background(), "rule_id = ?", rule.ID)
	if n != 1 {
		t.Errorf("Expected no retry, got: %d events", n)
	}
}

func TestWebhookPayload(t *testing.T) {
	var got WebhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Expected JSON content type, got: %s", ct)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	m := &storage.Monitor{ID: 7, Name: "api", Type: "http", Target: "https://api.example.com"}
	at := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	err := NewWebhookSender(time.Second).Send(context.Background(), server.URL, Notification{
		Monitor: m, Status: storage.StatusDown, Message: "HTTP 503", ResponseTimeMs: 42,
		ConsecutiveFailures: 3, CheckedAt: at,
	})
	if err != nil {
		t.Fatalf("Expected delivery, got: %v", err)
	}

	if got.Monitor.ID != 7 || got.Monitor.Name != "api" || got.Status != "down" {
		t.Errorf("Unexpected payload: %+v", got)
	}
	if got.ResponseTimeMs != 42 || got.ConsecutiveFailures != 3 || !got.CheckedAt.Equal(at) {
		t.Errorf("Unexpected payload metrics: %+v", got)
	}
	if len(got.Embeds) != 1 || got.Embeds[0].Color != ColorRed {
		t.Errorf("Expected one red embed, got: %+v", got.Embeds)
	}
}

func TestDiscordClient(t *testing.T) {
	var body discordMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/channels/"+channelID+"/messages" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bot secret" {
			t.Errorf("Expected bot authorization, got: %q", auth)
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.Write([]byte(`{"id":"1"}`))
	}))
	defer server.Close()

	client := NewDiscordClient(config.DiscordConfig{APIBase: server.URL + "/", Token: "secret", Timeout: time.Second})
	err := client.PostMessage(context.Background(), channelID, "<@&111> hi", &Embed{Title: "t", Color: ColorGreen})
	if err != nil {
		t.Fatalf("Expected post to succeed, got: %v", err)
	}
	if body.Content != "<@&111> hi" || len(body.Embeds) != 1 || body.Embeds[0].Color != ColorGreen {
		t.Errorf("Unexpected message: %+v", body)
	}
}

func TestRuleValidation(t *testing.T) {
	st := storagetest.Open(t)
	svc := NewService(st.Repos)
	m := storagetest.Monitor(t, st, "u1")
	ctx := context.Background()

	tests := []struct {
		name  string
		owner string
		in    RuleInput
		want  error
	}{
		{"Valid channel rule", "u1", RuleInput{SinkType: "channel", ChannelID: channelID, Mention: "here"}, nil},
		{"Valid webhook rule", "u1", RuleInput{SinkType: "webhook", WebhookURL: "https://hooks.example.com/x"}, nil},
		{"Foreign monitor", "u2", RuleInput{SinkType: "channel", ChannelID: channelID}, apperr.ErrForbidden},
		{"Unknown sink", "u1", RuleInput{SinkType: "sms"}, apperr.ErrInvalid},
		{"Channel id not numeric", "u1", RuleInput{SinkType: "channel", ChannelID: "general"}, apperr.ErrInvalid},
		{"Both addresses", "u1", RuleInput{SinkType: "channel", ChannelID: channelID, WebhookURL: "https://x.io"}, apperr.ErrInvalid},
		{"Webhook scheme", "u1", RuleInput{SinkType: "webhook", WebhookURL: "ftp://x.io"}, apperr.ErrInvalid},
		{"Webhook mention", "u1", RuleInput{SinkType: "webhook", WebhookURL: "https://x.io", Mention: "everyone"}, apperr.ErrInvalid},
		{"Bad mention", "u1", RuleInput{SinkType: "channel", ChannelID: channelID, Mention: "admins"}, apperr.ErrInvalid},
		{"Threshold too high", "u1", RuleInput{SinkType: "channel", ChannelID: channelID, ConsecutiveFailures: 11}, apperr.ErrInvalid},
		{"Cooldown too short", "u1", RuleInput{SinkType: "channel", ChannelID: channelID, CooldownSeconds: 30}, apperr.ErrInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule, err := svc.Create(ctx, tt.owner, m.ID, tt.in)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("Expected rule, got: %v", err)
				}
				if rule.ConsecutiveFailures != DefaultConsecutiveFailures || rule.CooldownSeconds != DefaultCooldownSeconds {
					t.Errorf("Expected defaults, got: %d/%d", rule.ConsecutiveFailures, rule.CooldownSeconds)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got: %v", tt.want, err)
			}
		})
	}
}

func TestRuleUpdateAndDelete(t *testing.T) {
	st := storagetest.Open(t)
	svc := NewService(st.Repos)
	m := storagetest.Monitor(t, st, "u1")
	ctx := context.Background()

	rule, _ := svc.Create(ctx, "u1", m.ID, RuleInput{SinkType: "channel", ChannelID: channelID})
	fired := time.Now().UTC().Truncate(time.Millisecond)
	st.Repos.AlertRules.UpdateColumns(ctx, rule.ID, map[string]any{"last_triggered": fired})

	t.Run("Update keeps last_triggered", func(t *testing.T) {
		threshold := 5
		updated, err := svc.Update(ctx, "u1", rule.ID, RulePatch{ConsecutiveFailures: &threshold})
		if err != nil {
			t.Fatalf("Failed to update: %v", err)
		}
		if updated.ConsecutiveFailures != 5 {
			t.Errorf("Expected threshold 5, got: %d", updated.ConsecutiveFailures)
		}
		if updated.LastTriggered == nil || !updated.LastTriggered.Equal(fired) {
			t.Errorf("Expected last_triggered to survive, got: %v", updated.LastTriggered)
		}
	})

	t.Run("Invalid update is not applied", func(t *testing.T) {
		cooldown := 10
		if _, err := svc.Update(ctx, "u1", rule.ID, RulePatch{CooldownSeconds: &cooldown}); !errors.Is(err, apperr.ErrInvalid) {
			t.Fatalf("Expected ErrInvalid, got: %v", err)
		}
		stored, _ := svc.Get(ctx, "u1", rule.ID)
		if stored.CooldownSeconds != DefaultCooldownSeconds {
			t.Errorf("Expected cooldown unchanged, got: %d", stored.CooldownSeconds)
		}
	})

	t.Run("Switch to webhook", func(t *testing.T) {
		sink, empty, hook := "webhook", "", "https://hooks.example.com/a"
		updated, err := svc.Update(ctx, "u1", rule.ID, RulePatch{SinkType: &sink, ChannelID: &empty, WebhookURL: &hook})
		if err != nil {
			t.Fatalf("Failed to switch sink: %v", err)
		}
		if updated.SinkType != storage.SinkWebhook || updated.ChannelID != "" {
			t.Errorf("Unexpected rule: %+v", updated)
		}
	})

	t.Run("Foreign owner", func(t *testing.T) {
		if err := svc.Delete(ctx, "u2", rule.ID); !errors.Is(err, apperr.ErrForbidden) {
			t.Errorf("Expected ErrForbidden, got: %v", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := svc.Delete(ctx, "u1", rule.ID); err != nil {
			t.Fatalf("Failed to delete: %v", err)
		}
		if _, err := svc.Get(ctx, "u1", rule.ID); !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got: %v", err)
		}
	})
}
