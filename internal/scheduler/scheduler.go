package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nextlevelbuilder/gobutler/internal/cron"
	"github.com/nextlevelbuilder/gobutler/internal/store"
	"github.com/nextlevelbuilder/gobutler/internal/tools"
)

// Scheduler polls for due tasks and executes their actions. Claiming is
// atomic at the store level, so multiple instances can run side by side.
type Scheduler struct {
	tasks    store.TaskStore
	users    store.UserStore
	registry *tools.Registry
	dispatch *tools.Dispatcher
	sender   tools.MessageSender
	interval time.Duration
}

func New(tasks store.TaskStore, users store.UserStore, registry *tools.Registry, dispatch *tools.Dispatcher, sender tools.MessageSender, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{
		tasks:    tasks,
		users:    users,
		registry: registry,
		dispatch: dispatch,
		sender:   sender,
		interval: interval,
	}
}

// Run polls until ctx is cancelled. One failing task never stops the loop.
func (s *Scheduler) Run(ctx context.Context) {
	slog.Info("scheduler started", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick claims and executes everything currently due.
func (s *Scheduler) Tick(ctx context.Context) {
	now := time.Now().UTC()
	due, err := s.tasks.ClaimDue(ctx, now)
	if err != nil {
		slog.Error("scheduler: claim failed", "error", err)
		return
	}
	for _, task := range due {
		if err := s.execute(ctx, task); err != nil {
			slog.Error("scheduler: task failed",
				"task", task.ID, "name", task.Name, "user", task.UserID, "error", err)
		}
		s.reschedule(ctx, task, now)
	}
}

func (s *Scheduler) execute(ctx context.Context, task *store.ScheduledTask) error {
	slog.Info("scheduler: running task", "task", task.ID, "name", task.Name, "type", task.Action.Type)

	switch task.Action.Type {
	case store.ActionReminder:
		category := task.Action.Category
		if category == "" {
			category = "reminders"
		}
		status, err := s.sender.Send(ctx, task.UserID, task.Action.Message, category)
		if err != nil {
			return fmt.Errorf("send reminder: %w", err)
		}
		slog.Info("scheduler: reminder dispatched", "task", task.ID, "status", status)
		return nil

	case store.ActionAutomation:
		result, err := s.runTool(ctx, task)
		if err != nil {
			return err
		}
		slog.Info("scheduler: automation ran", "task", task.ID, "result_len", len(result))
		return nil

	case store.ActionCheck:
		result, err := s.runTool(ctx, task)
		if err != nil {
			return err
		}
		severity := classifyResult(result)
		if !meetsThreshold(severity, task.Action.NotifyOn) {
			return nil
		}
		msg := fmt.Sprintf("Check %q reported %s: %s", task.Name, severity, summarize(result))
		status, err := s.sender.Send(ctx, task.UserID, msg, "alerts")
		if err != nil {
			return fmt.Errorf("send check result: %w", err)
		}
		slog.Info("scheduler: check notified", "task", task.ID, "severity", severity, "status", status)
		return nil

	default:
		return fmt.Errorf("unknown action type %q", task.Action.Type)
	}
}

// runTool executes the task's tool under the owner's authorization, going
// through the dispatcher so scheduled runs are audited like interactive ones.
func (s *Scheduler) runTool(ctx context.Context, task *store.ScheduledTask) (string, error) {
	user, err := s.users.Get(ctx, task.UserID)
	if err != nil {
		return "", fmt.Errorf("user lookup: %w", err)
	}
	if user == nil {
		return "", fmt.Errorf("task owner %q no longer exists", task.UserID)
	}

	authorized := s.registry.ForUser(user)
	result := s.dispatch.ExecuteAndLog(ctx, task.Action.Tool, cloneParams(task.Action.Params), authorized, task.UserID, "scheduler")
	if strings.HasPrefix(result, "Unknown tool:") || strings.HasPrefix(result, "Error executing") {
		return result, fmt.Errorf("tool %s: %s", task.Action.Tool, result)
	}
	return result, nil
}

// reschedule computes the next run. One-shot tasks and tasks with an
// expression that no longer parses end up with a nil next_run.
func (s *Scheduler) reschedule(ctx context.Context, task *store.ScheduledTask, ranAt time.Time) {
	var next *time.Time
	if task.Cron != "" {
		next = cron.Next(task.Cron, ranAt)
		if next == nil {
			slog.Warn("scheduler: cron no longer parses, disabling",
				"task", task.ID, "cron", task.Cron)
		}
	}
	if err := s.tasks.Complete(ctx, task.ID, ranAt, next); err != nil {
		slog.Error("scheduler: complete failed", "task", task.ID, "error", err)
	}
}

func cloneParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

// classifyResult extracts a severity from a tool result. JSON results with
// a severity/status field win; otherwise keywords in the text decide.
func classifyResult(result string) string {
	var parsed struct {
		Severity string `json:"severity"`
		Status   string `json:"status"`
	}
	if err := json.Unmarshal([]byte(result), &parsed); err == nil {
		if parsed.Severity != "" {
			return strings.ToLower(parsed.Severity)
		}
		if parsed.Status != "" {
			return strings.ToLower(parsed.Status)
		}
	}
	lower := strings.ToLower(result)
	switch {
	case strings.Contains(lower, "critical"), strings.Contains(lower, "emergency"):
		return store.SeverityCritical
	case strings.Contains(lower, "warning"), strings.Contains(lower, "error"):
		return store.SeverityWarning
	default:
		return store.SeverityInfo
	}
}

// meetsThreshold applies the task's notify_on policy to a severity.
func meetsThreshold(severity, notifyOn string) bool {
	switch notifyOn {
	case "always":
		return true
	case "critical":
		return severity == store.SeverityCritical || severity == store.SeverityEmergency
	case "warning", "":
		return severity == store.SeverityWarning ||
			severity == store.SeverityCritical ||
			severity == store.SeverityEmergency
	default:
		return false
	}
}

func summarize(result string) string {
	result = strings.TrimSpace(result)
	if len(result) <= 200 {
		return result
	}
	n := 200
	for n > 0 && !utf8.RuneStart(result[n]) {
		n--
	}
	return result[:n] + "..."
}
