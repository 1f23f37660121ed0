package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/gobutler/internal/config"
	"github.com/nextlevelbuilder/gobutler/internal/store"
	"github.com/nextlevelbuilder/gobutler/internal/store/pg"
)

// withStores opens the pool for a one-shot admin command.
func withStores(fn func(ctx context.Context, stores *store.Stores) error) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Database.DSN == "" {
		return fmt.Errorf("BUTLER_POSTGRES_DSN environment variable is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pg.OpenPool(ctx, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, pg.NewStores(pool))
}

func usersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "User administration",
	}
	cmd.AddCommand(usersListCmd())
	cmd.AddCommand(usersInviteCmd())
	cmd.AddCommand(usersDeleteCmd())
	cmd.AddCommand(usersSoulCmd())
	return cmd
}

func usersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(func(ctx context.Context, stores *store.Stores) error {
				users, err := stores.Users.List(ctx)
				if err != nil {
					return err
				}
				if len(users) == 0 {
					fmt.Println("no users")
					return nil
				}
				for _, u := range users {
					phone := u.Phone
					if phone == "" {
						phone = "-"
					}
					fmt.Printf("%-20s %-20s %-6s phone=%s perms=%v\n",
						u.ID, u.Name, u.Role, phone, u.Permissions)
				}
				return nil
			})
		},
	}
}

func usersInviteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invite <code>",
		Short: "Create an invite code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(func(ctx context.Context, stores *store.Stores) error {
				if err := stores.Users.CreateInvite(ctx, args[0], store.SystemUserID); err != nil {
					return err
				}
				fmt.Printf("invite %s created\n", args[0])
				return nil
			})
		},
	}
}

func usersDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <user-id>",
		Short: "Delete a user and all their data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if id == store.DefaultUserID || id == store.SystemUserID {
				return fmt.Errorf("refusing to delete reserved user %q", id)
			}
			return withStores(func(ctx context.Context, stores *store.Stores) error {
				if err := stores.Users.Delete(ctx, id); err != nil {
					return err
				}
				fmt.Printf("user %s deleted\n", id)
				return nil
			})
		},
	}
}

func usersSoulCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "soul <user-id> <field> <value>",
		Short: "Set one soul field (style, verbosity, humor, custom_instructions, butler_name)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, field, value := args[0], args[1], args[2]
			if !store.SoulKeys[field] {
				return fmt.Errorf("unknown soul field %q", field)
			}
			return withStores(func(ctx context.Context, stores *store.Stores) error {
				user, err := stores.Users.Get(ctx, id)
				if err != nil {
					return err
				}
				if user == nil {
					return fmt.Errorf("no such user %q", id)
				}
				soul := user.Soul
				switch field {
				case "style":
					soul.Style = value
				case "verbosity":
					soul.Verbosity = value
				case "humor":
					soul.Humor = value
				case "custom_instructions":
					soul.CustomInstructions = value
				case "butler_name":
					soul.ButlerName = value
				}
				if err := stores.Users.UpdateSoul(ctx, id, soul); err != nil {
					return err
				}
				fmt.Printf("soul.%s updated for %s\n", field, id)
				return nil
			})
		},
	}
}
