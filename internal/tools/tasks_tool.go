package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/gobutler/internal/cron"
	"github.com/nextlevelbuilder/gobutler/internal/store"
)

// ScheduleTool lets the LLM create, list and delete scheduled tasks.
type ScheduleTool struct {
	tasks store.TaskStore
}

func NewScheduleTool(tasks store.TaskStore) *ScheduleTool {
	return &ScheduleTool{tasks: tasks}
}

func (t *ScheduleTool) Name() string { return "schedule_task" }

func (t *ScheduleTool) Description() string {
	return "Manage scheduled tasks: reminders, recurring automations, and checks. " +
		"Use action=create with a cron expression for recurring tasks, or without one for a one-shot."
}

func (t *ScheduleTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"user_id": map[string]any{"type": "string"},
			"action":  map[string]any{"type": "string", "enum": []string{"create", "list", "delete"}},
			"name":    map[string]any{"type": "string", "description": "Display name for the task"},
			"cron":    map[string]any{"type": "string", "description": "Cron expression (e.g. '0 9 * * *'); omit for a one-shot task"},
			"task_type": map[string]any{
				"type": "string",
				"enum": []string{store.ActionReminder, store.ActionAutomation, store.ActionCheck},
			},
			"message":   map[string]any{"type": "string", "description": "Reminder message"},
			"category":  map[string]any{"type": "string", "description": "Notification category for reminders"},
			"tool":      map[string]any{"type": "string", "description": "Tool to run for automation/check tasks"},
			"params":    map[string]any{"type": "object", "description": "Parameters for the tool"},
			"notify_on": map[string]any{"type": "string", "enum": []string{"warning", "critical", "always"}},
			"task_id":   map[string]any{"type": "string", "description": "Task id for delete"},
		},
		"required": []string{"user_id", "action"},
	}
}

func (t *ScheduleTool) Execute(ctx context.Context, input map[string]any) (string, error) {
	userID := StringArg(input, "user_id")
	switch StringArg(input, "action") {
	case "create":
		return t.create(ctx, userID, input)
	case "list":
		return t.list(ctx, userID)
	case "delete":
		id := StringArg(input, "task_id")
		if id == "" {
			return "", fmt.Errorf("task_id is required for delete")
		}
		if err := t.tasks.Delete(ctx, userID, id); err != nil {
			return "", err
		}
		return "Task deleted.", nil
	default:
		return "", fmt.Errorf("action must be create, list or delete")
	}
}

func (t *ScheduleTool) create(ctx context.Context, userID string, input map[string]any) (string, error) {
	name := StringArg(input, "name")
	if name == "" {
		return "", fmt.Errorf("name is required")
	}

	action := store.TaskAction{
		Type:     StringArg(input, "task_type"),
		Message:  StringArg(input, "message"),
		Category: StringArg(input, "category"),
		Tool:     StringArg(input, "tool"),
		Params:   MapArg(input, "params"),
		NotifyOn: StringArg(input, "notify_on"),
	}
	if action.Type == "" {
		action.Type = store.ActionReminder
	}
	switch action.Type {
	case store.ActionReminder:
		if action.Message == "" {
			return "", fmt.Errorf("reminder tasks need a message")
		}
	case store.ActionAutomation, store.ActionCheck:
		if action.Tool == "" {
			return "", fmt.Errorf("%s tasks need a tool", action.Type)
		}
	default:
		return "", fmt.Errorf("unknown task type %q", action.Type)
	}

	now := time.Now().UTC()
	task := &store.ScheduledTask{
		ID:      uuid.Must(uuid.NewV7()).String(),
		UserID:  userID,
		Name:    name,
		Action:  action,
		Enabled: true,
	}

	expr := StringArg(input, "cron")
	if expr == "" {
		// One-shot: due immediately.
		task.NextRun = &now
	} else {
		if !cron.Valid(expr) {
			return "", fmt.Errorf("invalid cron expression %q", expr)
		}
		task.Cron = expr
		task.NextRun = cron.Next(expr, now)
	}

	if err := t.tasks.Create(ctx, task); err != nil {
		return "", err
	}
	if task.NextRun != nil {
		return fmt.Sprintf("Task %q created (id %s), next run %s.",
			name, task.ID, task.NextRun.UTC().Format(time.RFC3339)), nil
	}
	return fmt.Sprintf("Task %q created (id %s).", name, task.ID), nil
}

func (t *ScheduleTool) list(ctx context.Context, userID string) (string, error) {
	tasks, err := t.tasks.ListByUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if len(tasks) == 0 {
		return "No scheduled tasks.", nil
	}
	var sb strings.Builder
	for _, task := range tasks {
		fmt.Fprintf(&sb, "- %s (id %s, %s", task.Name, task.ID, task.Action.Type)
		if task.Cron != "" {
			fmt.Fprintf(&sb, ", cron %q", task.Cron)
		}
		if task.NextRun != nil {
			fmt.Fprintf(&sb, ", next %s", task.NextRun.UTC().Format(time.RFC3339))
		} else if !task.Enabled {
			sb.WriteString(", disabled")
		}
		sb.WriteString(")\n")
	}
	return sb.String(), nil
}
