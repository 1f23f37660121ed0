package tools

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/nextlevelbuilder/gobutler/internal/store"
)

type fakeAudit struct {
	records []*store.ToolUsage
	fail    bool
}

func (f *fakeAudit) Record(_ context.Context, u *store.ToolUsage) error {
	if f.fail {
		return fmt.Errorf("audit db down")
	}
	f.records = append(f.records, u)
	return nil
}

func (f *fakeAudit) Prune(_ context.Context, _ time.Time) (int64, error) { return 0, nil }

func (f *fakeAudit) RecentForUser(_ context.Context, _ string, _ int) ([]*store.ToolUsage, error) {
	return nil, nil
}

type stubTool struct {
	name       string
	withUserID bool
	result     string
	err        error
	gotInput   map[string]any
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub" }

func (s *stubTool) Schema() map[string]any {
	props := map[string]any{}
	if s.withUserID {
		props["user_id"] = map[string]any{"type": "string"}
	}
	return map[string]any{"type": "object", "properties": props}
}

func (s *stubTool) Execute(_ context.Context, input map[string]any) (string, error) {
	s.gotInput = input
	return s.result, s.err
}

func TestExecuteAndLogUnknownTool(t *testing.T) {
	audit := &fakeAudit{}
	d := NewDispatcher(audit)

	got := d.ExecuteAndLog(context.Background(), "nope", nil, map[string]Tool{}, "alice", "pwa")
	if got != "Unknown tool: nope" {
		t.Fatalf("got %q", got)
	}
	if len(audit.records) != 1 || audit.records[0].Error != "unknown tool" {
		t.Fatalf("audit record missing or wrong: %+v", audit.records)
	}
}

func TestExecuteAndLogPinsUserID(t *testing.T) {
	tool := &stubTool{name: "t", withUserID: true, result: "ok"}
	d := NewDispatcher(&fakeAudit{})

	input := map[string]any{"user_id": "mallory", "x": 1.0}
	d.ExecuteAndLog(context.Background(), "t", input, map[string]Tool{"t": tool}, "alice", "pwa")

	if tool.gotInput["user_id"] != "alice" {
		t.Errorf("user_id not pinned: got %v", tool.gotInput["user_id"])
	}
	if tool.gotInput["x"] != 1.0 {
		t.Errorf("other params dropped: %v", tool.gotInput)
	}
}

func TestExecuteAndLogNoPinWithoutSchemaField(t *testing.T) {
	tool := &stubTool{name: "t", result: "ok"}
	d := NewDispatcher(&fakeAudit{})

	d.ExecuteAndLog(context.Background(), "t", map[string]any{}, map[string]Tool{"t": tool}, "alice", "pwa")
	if _, has := tool.gotInput["user_id"]; has {
		t.Error("user_id injected into a schema without it")
	}
}

func TestExecuteAndLogErrorPath(t *testing.T) {
	tool := &stubTool{name: "t", err: fmt.Errorf("boom")}
	audit := &fakeAudit{}
	d := NewDispatcher(audit)

	got := d.ExecuteAndLog(context.Background(), "t", nil, map[string]Tool{"t": tool}, "alice", "voice")
	if got != "Error executing t: boom" {
		t.Fatalf("got %q", got)
	}
	if len(audit.records) != 1 || audit.records[0].Error != "boom" {
		t.Fatalf("error not audited: %+v", audit.records)
	}
}

func TestExecuteAndLogTruncatesResultSummary(t *testing.T) {
	long := strings.Repeat("x", resultSummaryMax*3)
	tool := &stubTool{name: "t", result: long}
	audit := &fakeAudit{}
	d := NewDispatcher(audit)

	got := d.ExecuteAndLog(context.Background(), "t", nil, map[string]Tool{"t": tool}, "alice", "pwa")
	if got != long {
		t.Error("caller result must not be truncated")
	}
	if len(audit.records[0].Result) != resultSummaryMax {
		t.Errorf("audit summary is %d bytes, want %d", len(audit.records[0].Result), resultSummaryMax)
	}
}

func TestExecuteAndLogTruncationKeepsValidUTF8(t *testing.T) {
	// 3-byte runes that do not divide the cap evenly, so a naive byte slice
	// would cut one in half.
	long := strings.Repeat("€", resultSummaryMax)
	tool := &stubTool{name: "t", result: long}
	audit := &fakeAudit{}
	d := NewDispatcher(audit)

	d.ExecuteAndLog(context.Background(), "t", nil, map[string]Tool{"t": tool}, "alice", "pwa")

	summary := audit.records[0].Result
	if len(summary) > resultSummaryMax {
		t.Errorf("summary is %d bytes, cap is %d", len(summary), resultSummaryMax)
	}
	if !utf8.ValidString(summary) {
		t.Error("summary contains a split rune")
	}
}

func TestExecuteAndLogSwallowsAuditFailure(t *testing.T) {
	tool := &stubTool{name: "t", result: "fine"}
	d := NewDispatcher(&fakeAudit{fail: true})

	got := d.ExecuteAndLog(context.Background(), "t", nil, map[string]Tool{"t": tool}, "alice", "pwa")
	if got != "fine" {
		t.Fatalf("audit failure leaked into result: %q", got)
	}
}

func TestRegistryForUser(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "open"}, "")
	r.Register(&stubTool{name: "media"}, store.PermMedia)
	r.Register(&stubTool{name: "home"}, store.PermHome)

	plain := &store.User{ID: "u", Role: store.RoleUser, Permissions: []string{store.PermMedia}}
	got := r.ForUser(plain)
	if _, ok := got["open"]; !ok {
		t.Error("ungated tool missing")
	}
	if _, ok := got["media"]; !ok {
		t.Error("granted tool missing")
	}
	if _, ok := got["home"]; ok {
		t.Error("ungranted tool present")
	}

	admin := &store.User{ID: "a", Role: store.RoleAdmin}
	if got := r.ForUser(admin); len(got) != 3 {
		t.Errorf("admin sees %d tools, want 3", len(got))
	}
}

func TestRegistryPerUserFactory(t *testing.T) {
	r := NewRegistry()
	r.RegisterPerUser(func(u *store.User) Tool {
		if u.ID == "skip" {
			return nil
		}
		return &stubTool{name: "calendar"}
	}, "")

	if got := r.ForUser(&store.User{ID: "u"}); got["calendar"] == nil {
		t.Error("per-user tool missing")
	}
	if got := r.ForUser(&store.User{ID: "skip"}); got["calendar"] != nil {
		t.Error("nil factory result should skip the tool")
	}
}
