package tools

import (
	"context"
	"fmt"
)

// MessageSender delivers an outbound message; implemented by the notify
// package. The returned string is a human-readable delivery status
// ("sent", "queued", or a skip reason).
type MessageSender interface {
	Send(ctx context.Context, userID, message, category string) (string, error)
}

// NotifyTool sends an outbound message through the notification channel,
// subject to the user's preferences, quiet hours and rate limits.
type NotifyTool struct {
	sender MessageSender
}

func NewNotifyTool(sender MessageSender) *NotifyTool {
	return &NotifyTool{sender: sender}
}

func (t *NotifyTool) Name() string { return "send_notification" }

func (t *NotifyTool) Description() string {
	return "Send a push message to the user's phone. Respects their notification preferences and quiet hours."
}

func (t *NotifyTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"user_id":  map[string]any{"type": "string"},
			"message":  map[string]any{"type": "string"},
			"category": map[string]any{"type": "string", "description": "e.g. general, reminders, alerts, media"},
		},
		"required": []string{"user_id", "message"},
	}
}

func (t *NotifyTool) Execute(ctx context.Context, input map[string]any) (string, error) {
	message := StringArg(input, "message")
	if message == "" {
		return "", fmt.Errorf("message is required")
	}
	category := StringArg(input, "category")
	if category == "" {
		category = "general"
	}
	return t.sender.Send(ctx, StringArg(input, "user_id"), message, category)
}
