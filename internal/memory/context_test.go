package memory

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/nextlevelbuilder/gobutler/internal/store"
)

type fakeUsers struct {
	store.UserStore
	user *store.User
}

func (f *fakeUsers) Get(_ context.Context, _ string) (*store.User, error) { return f.user, nil }

type fakeFacts struct {
	store.FactStore
	facts []*store.UserFact
}

func (f *fakeFacts) SearchByCategory(_ context.Context, _, _ string, _ int) ([]*store.UserFact, error) {
	return f.facts, nil
}

type fakeConvo struct {
	store.ConversationStore
	msgs []*store.ConversationMessage
}

func (f *fakeConvo) RecentSince(_ context.Context, _ string, _ time.Time, _ int) ([]*store.ConversationMessage, error) {
	return f.msgs, nil
}

func TestSystemPromptLayers(t *testing.T) {
	when := time.Date(2026, 3, 9, 14, 5, 0, 0, time.UTC)
	b := NewContextBuilder(
		&fakeUsers{user: &store.User{
			ID:   "alice",
			Name: "Alice",
			Soul: store.Soul{
				ButlerName: "Jeeves",
				Style:      "dry and precise",
				Humor:      "subtle",
			},
		}},
		&fakeFacts{facts: []*store.UserFact{
			{Category: store.FactPreference, Fact: "prefers metric units"},
			{Category: store.FactSchedule, Fact: "gym on Tuesdays"},
		}},
		&fakeConvo{msgs: []*store.ConversationMessage{
			{Role: "user", Channel: store.ChannelWhatsApp, Content: "remind me about the gym", CreatedAt: when},
			{Role: "assistant", Channel: store.ChannelWhatsApp, Content: "Will do.", CreatedAt: when},
		}},
	)

	prompt := b.SystemPrompt(context.Background(), "alice")

	for _, want := range []string{
		"You are Jeeves, a personal home-server assistant, speaking with Alice.",
		"Personality:",
		"Style: dry and precise",
		"Humor: subtle",
		"What you know about them:",
		"- [preference] prefers metric units",
		"- [schedule] gym on Tuesdays",
		"Recent conversations (all channels, oldest first):",
		"[via WhatsApp] Alice: remind me about the gym",
		"[via WhatsApp] You: Will do.",
		"Rules:",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q\n---\n%s", want, prompt)
		}
	}

	// Layer order: identity before personality before facts before history.
	idx := func(s string) int { return strings.Index(prompt, s) }
	if !(idx("You are Jeeves") < idx("Personality:") &&
		idx("Personality:") < idx("What you know") &&
		idx("What you know") < idx("Recent conversations") &&
		idx("Recent conversations") < idx("Rules:")) {
		t.Error("prompt layers out of order")
	}
}

func TestSystemPromptDefaultsAndSkippedLayers(t *testing.T) {
	b := NewContextBuilder(
		&fakeUsers{user: nil}, // unknown user
		&fakeFacts{},
		&fakeConvo{},
	)
	prompt := b.SystemPrompt(context.Background(), "ghost")

	if !strings.Contains(prompt, "You are Butler, a personal home-server assistant, speaking with ghost.") {
		t.Errorf("identity fallback missing:\n%s", prompt)
	}
	for _, absent := range []string{"Personality:", "What you know about them:", "Recent conversations"} {
		if strings.Contains(prompt, absent) {
			t.Errorf("empty layer %q should be skipped", absent)
		}
	}
}

func TestSystemPromptTruncatesLongHistory(t *testing.T) {
	long := strings.Repeat("a", 300)
	b := NewContextBuilder(
		&fakeUsers{user: &store.User{ID: "u"}},
		&fakeFacts{},
		&fakeConvo{msgs: []*store.ConversationMessage{
			{Role: "user", Channel: store.ChannelPWA, Content: long, CreatedAt: time.Now()},
		}},
	)
	prompt := b.SystemPrompt(context.Background(), "u")
	if strings.Contains(prompt, long) {
		t.Error("history content not truncated")
	}
	if !strings.Contains(prompt, strings.Repeat("a", 100)+"...") {
		t.Error("truncation marker missing")
	}
}

func TestSystemPromptTruncationKeepsValidUTF8(t *testing.T) {
	long := strings.Repeat("€", 120) // 360 bytes of 3-byte runes
	b := NewContextBuilder(
		&fakeUsers{user: &store.User{ID: "u"}},
		&fakeFacts{},
		&fakeConvo{msgs: []*store.ConversationMessage{
			{Role: "user", Channel: store.ChannelPWA, Content: long, CreatedAt: time.Now()},
		}},
	)
	prompt := b.SystemPrompt(context.Background(), "u")
	if !utf8.ValidString(prompt) {
		t.Error("prompt contains a split rune")
	}
	// 100 bytes is not a rune boundary here; the cut backs up to 99.
	if !strings.Contains(prompt, strings.Repeat("€", 33)+"...") {
		t.Error("truncation marker missing or rune split")
	}
}

func TestChannelLabel(t *testing.T) {
	tests := []struct {
		channel string
		want    string
	}{
		{store.ChannelVoice, "[via voice]"},
		{store.ChannelPWA, "[via web app]"},
		{store.ChannelWhatsApp, "[via WhatsApp]"},
		{store.ChannelTelegram, "[via Telegram]"},
		{"matrix", "[via matrix]"},
	}
	for _, tt := range tests {
		if got := channelLabel(tt.channel); got != tt.want {
			t.Errorf("channelLabel(%q) = %q, want %q", tt.channel, got, tt.want)
		}
	}
}
