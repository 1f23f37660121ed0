package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nextlevelbuilder/gobutler/internal/store"
)

// Syncer reconciles downstream service metadata into the service_state
// table on an interval, so tools can answer from a fresh local snapshot
// instead of hitting the service on every question.
type Syncer struct {
	state    store.StateStore
	mediaURL string
	mediaKey string
	interval time.Duration
	http     *http.Client
}

func New(state store.StateStore, mediaURL, mediaKey string, interval time.Duration) *Syncer {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Syncer{
		state:    state,
		mediaURL: strings.TrimRight(mediaURL, "/"),
		mediaKey: mediaKey,
		interval: interval,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

// Run syncs once at startup and then on the interval until ctx ends.
func (s *Syncer) Run(ctx context.Context) {
	if s.mediaURL == "" {
		slog.Info("syncer disabled: no media endpoint configured")
		return
	}
	slog.Info("syncer started", "interval", s.interval)
	s.SyncOnce(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("syncer stopped")
			return
		case <-ticker.C:
			s.SyncOnce(ctx)
		}
	}
}

// SyncOnce pulls current media library stats and stores the snapshot.
// Failures leave the previous snapshot in place.
func (s *Syncer) SyncOnce(ctx context.Context) {
	snapshot, err := s.fetchMediaStats(ctx)
	if err != nil {
		slog.Warn("syncer: media fetch failed", "error", err)
		return
	}
	if err := s.state.Put(ctx, &store.ServiceState{
		Service: "media",
		Payload: snapshot,
	}); err != nil {
		slog.Error("syncer: snapshot write failed", "error", err)
		return
	}
	slog.Debug("syncer: media snapshot updated", "bytes", len(snapshot))
}

func (s *Syncer) fetchMediaStats(ctx context.Context) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.mediaURL+"/api/v3/library/stats", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Api-Key", s.mediaKey)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("media request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 256*1024))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	// Validate before storing; a broken snapshot is worse than a stale one.
	var check json.RawMessage
	if err := json.Unmarshal(body, &check); err != nil {
		return nil, fmt.Errorf("invalid JSON snapshot: %w", err)
	}
	return body, nil
}
