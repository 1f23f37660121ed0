package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/nextlevelbuilder/gobutler/internal/store"
)

// resultSummaryMax caps the audit record's result summary, in bytes.
const resultSummaryMax = 500

// Dispatcher is the single entry point for tool invocation: it enforces
// the identity override, captures duration, and writes the audit record.
type Dispatcher struct {
	audit store.AuditStore
}

func NewDispatcher(audit store.AuditStore) *Dispatcher {
	return &Dispatcher{audit: audit}
}

// ExecuteAndLog dispatches one tool call on behalf of userID. All failure
// modes come back as strings the LLM can read; nothing here aborts a turn.
// Audit write failures are swallowed.
func (d *Dispatcher) ExecuteAndLog(ctx context.Context, name string, input map[string]any, authorized map[string]Tool, userID, channel string) string {
	tool, ok := authorized[name]
	if !ok {
		d.record(ctx, &store.ToolUsage{
			UserID:   userID,
			ToolName: name,
			Params:   input,
			Error:    "unknown tool",
			Channel:  channel,
		})
		return "Unknown tool: " + name
	}

	// The LLM must not impersonate other users: if the schema declares a
	// user_id parameter, pin it to the authenticated identity.
	if schemaHasUserID(tool.Schema()) {
		if input == nil {
			input = make(map[string]any)
		}
		input["user_id"] = userID
	}

	start := time.Now()
	result, err := tool.Execute(ctx, input)
	elapsed := time.Since(start)

	if err != nil {
		d.record(ctx, &store.ToolUsage{
			UserID:   userID,
			ToolName: name,
			Params:   input,
			Error:    err.Error(),
			Duration: elapsed,
			Channel:  channel,
		})
		return fmt.Sprintf("Error executing %s: %v", name, err)
	}

	d.record(ctx, &store.ToolUsage{
		UserID:   userID,
		ToolName: name,
		Params:   input,
		Result:   truncate(result, resultSummaryMax),
		Duration: elapsed,
		Channel:  channel,
	})
	return result
}

func (d *Dispatcher) record(ctx context.Context, u *store.ToolUsage) {
	if d.audit == nil {
		return
	}
	if err := d.audit.Record(ctx, u); err != nil {
		slog.Warn("tool audit write failed", "tool", u.ToolName, "error", err)
	}
}

func schemaHasUserID(schema map[string]any) bool {
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return false
	}
	_, has := props["user_id"]
	return has
}

// truncate cuts s to at most n bytes, backing up so a multi-byte rune is
// never split.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// PruneAudit deletes audit rows older than retention. Run once at startup
// and then daily.
func (d *Dispatcher) PruneAudit(ctx context.Context, retention time.Duration) {
	if d.audit == nil {
		return
	}
	n, err := d.audit.Prune(ctx, time.Now().Add(-retention))
	if err != nil {
		slog.Warn("audit prune failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("audit pruned", "rows", n)
	}
}

// RunRetention blocks until ctx is cancelled, pruning once immediately
// and then every 24h.
func (d *Dispatcher) RunRetention(ctx context.Context, retention time.Duration) {
	d.PruneAudit(ctx, retention)
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.PruneAudit(ctx, retention)
		}
	}
}
