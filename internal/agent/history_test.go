package agent

import (
	"testing"

	"github.com/nextlevelbuilder/gobutler/internal/providers"
)

func msg(role, text string) providers.Message {
	return providers.Message{Role: role, Text: text}
}

func TestBuildMessages(t *testing.T) {
	tests := []struct {
		name    string
		history []providers.Message
		message string
		want    []providers.Message
	}{
		{
			name:    "empty history",
			message: "hello",
			want:    []providers.Message{msg("user", "hello")},
		},
		{
			name:    "drops leading assistant",
			history: []providers.Message{msg("assistant", "welcome"), msg("user", "hi"), msg("assistant", "hello")},
			message: "how are you",
			want: []providers.Message{
				msg("user", "hi"),
				msg("assistant", "hello"),
				msg("user", "how are you"),
			},
		},
		{
			name:    "merges consecutive same role",
			history: []providers.Message{msg("user", "one"), msg("user", "two"), msg("assistant", "ack")},
			message: "three",
			want: []providers.Message{
				msg("user", "one\n\ntwo"),
				msg("assistant", "ack"),
				msg("user", "three"),
			},
		},
		{
			name:    "trailing user absorbs new message",
			history: []providers.Message{msg("user", "first")},
			message: "second",
			want:    []providers.Message{msg("user", "first\n\nsecond")},
		},
		{
			name:    "skips empty messages",
			history: []providers.Message{msg("user", "hi"), msg("assistant", ""), msg("assistant", "there")},
			message: "ok",
			want: []providers.Message{
				msg("user", "hi"),
				msg("assistant", "there"),
				msg("user", "ok"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildMessages(tt.history, tt.message, nil)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d messages, want %d: %+v", len(got), len(tt.want), got)
			}
			for i := range got {
				if got[i].Role != tt.want[i].Role || got[i].Text != tt.want[i].Text {
					t.Errorf("message %d: got {%s %q}, want {%s %q}",
						i, got[i].Role, got[i].Text, tt.want[i].Role, tt.want[i].Text)
				}
			}
		})
	}
}

func TestBuildMessagesImagePlacement(t *testing.T) {
	img := &providers.ImageAttachment{MediaType: "image/png", Data: "aGk="}

	got := BuildMessages(nil, "what is this", img)
	if len(got) != 1 || got[0].Image != img {
		t.Fatalf("image not attached to new user message: %+v", got)
	}

	got = BuildMessages([]providers.Message{msg("user", "earlier")}, "and this", img)
	if len(got) != 1 || got[0].Image != img {
		t.Fatalf("image not attached to merged trailing user message: %+v", got)
	}

	// Assistant blocks never carry the image.
	got = BuildMessages([]providers.Message{msg("user", "q"), msg("assistant", "a")}, "next", img)
	if got[1].Image != nil {
		t.Fatalf("assistant message carries image")
	}
	if got[2].Image != img {
		t.Fatalf("final user message missing image")
	}
}
