package bootstrap

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/gobutler/internal/store"
)

// Seed makes a fresh database usable: the reserved rows exist, and an
// empty install gets a first invite code so the owner can register.
// Seeding never overwrites existing data.
func Seed(ctx context.Context, users store.UserStore) error {
	reserved := []*store.User{
		{ID: store.DefaultUserID, Name: "Default", Role: store.RoleUser, NotifyPrefs: store.DefaultNotifyPrefs()},
		{ID: store.SystemUserID, Name: "System", Role: store.RoleAdmin, NotifyPrefs: store.DefaultNotifyPrefs()},
	}
	for _, u := range reserved {
		if err := users.Upsert(ctx, u); err != nil {
			return fmt.Errorf("seed reserved user %s: %w", u.ID, err)
		}
	}

	existing, err := users.List(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	code, err := inviteCode()
	if err != nil {
		return fmt.Errorf("generate invite: %w", err)
	}
	if err := users.CreateInvite(ctx, code, store.SystemUserID); err != nil {
		return fmt.Errorf("create bootstrap invite: %w", err)
	}
	slog.Info("no users yet; created bootstrap invite code", "code", code)
	return nil
}

func inviteCode() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
