package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/audiovault/audiovault/internal/cli/output"
	"github.com/audiovault/audiovault/internal/cli/prompt"
	"github.com/audiovault/audiovault/pkg/config"
	"github.com/audiovault/audiovault/pkg/models"
	"github.com/audiovault/audiovault/pkg/store"
)

var (
	userAddName    string
	userAddAdmin   bool
	userListFormat string
	userDeleteYes  bool
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
	Long: `Manage AudioVault user accounts directly against the database.

These commands operate on the same database as the running server, so
changes take effect immediately. Password prompts are interactive and
masked.`,
}

var userListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List all users",
	RunE:    runUserList,
}

var userAddCmd = &cobra.Command{
	Use:   "add <email>",
	Short: "Add a new user (prompts for password)",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserAdd,
}

var userPasswdCmd = &cobra.Command{
	Use:     "passwd <email>",
	Aliases: []string{"password"},
	Short:   "Change a user's password",
	Args:    cobra.ExactArgs(1),
	RunE:    runUserPasswd,
}

var userUnlockCmd = &cobra.Command{
	Use:   "unlock <email>",
	Short: "Unlock a locked account and clear login failures",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserUnlock,
}

var userDeleteCmd = &cobra.Command{
	Use:     "delete <email>",
	Aliases: []string{"remove"},
	Short:   "Delete a user and everything they own",
	Args:    cobra.ExactArgs(1),
	RunE:    runUserDelete,
}

func init() {
	userListCmd.Flags().StringVar(&userListFormat, "format", "table", "Output format (table, json)")
	userAddCmd.Flags().StringVar(&userAddName, "name", "", "Display name for the new user")
	userAddCmd.Flags().BoolVar(&userAddAdmin, "admin", false, "Create the user with the admin role")
	userDeleteCmd.Flags().BoolVarP(&userDeleteYes, "yes", "y", false, "Skip the confirmation prompt")

	userCmd.AddCommand(userListCmd)
	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userPasswdCmd)
	userCmd.AddCommand(userUnlockCmd)
	userCmd.AddCommand(userDeleteCmd)
}

// openStore loads configuration and opens the database for CLI use.
func openStore() (*store.GORMStore, error) {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return nil, err
	}
	db, err := store.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

func runUserList(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(userListFormat)
	if err != nil {
		return err
	}

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	users, err := db.ListUsers(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	if format == output.FormatJSON {
		return output.PrintJSON(os.Stdout, users)
	}

	table := output.NewTableData("EMAIL", "NAME", "ROLE", "STATUS", "LAST LOGIN", "CREATED")
	now := time.Now()
	for _, u := range users {
		table.AddRow(
			u.Email,
			u.Name,
			u.Role,
			userStatus(u, now),
			formatUserTime(u.LastLogin),
			u.CreatedAt.Format("2006-01-02"),
		)
	}
	return output.PrintTable(os.Stdout, table)
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	email := args[0]

	password, err := prompt.NewPassword()
	if err != nil {
		if prompt.IsAborted(err) {
			return nil
		}
		return err
	}

	hash, err := store.HashPassword(password)
	if err != nil {
		return err
	}

	role := string(models.RoleUser)
	if userAddAdmin {
		role = string(models.RoleAdmin)
	}

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	id, err := db.CreateUser(cmd.Context(), &models.User{
		Email:        email,
		PasswordHash: hash,
		Name:         userAddName,
		Role:         role,
	})
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	fmt.Printf("User %s created (id: %s, role: %s)\n", email, id, role)
	return nil
}

func runUserPasswd(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	user, err := findUserByEmail(cmd.Context(), db, args[0])
	if err != nil {
		return err
	}

	password, err := prompt.NewPassword()
	if err != nil {
		if prompt.IsAborted(err) {
			return nil
		}
		return err
	}

	if err := db.SetPassword(cmd.Context(), user.ID, password); err != nil {
		return fmt.Errorf("failed to change password: %w", err)
	}

	fmt.Printf("Password changed for %s\n", user.Email)
	return nil
}

func runUserUnlock(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	user, err := findUserByEmail(cmd.Context(), db, args[0])
	if err != nil {
		return err
	}

	if err := db.UnlockUser(cmd.Context(), user.ID); err != nil {
		return fmt.Errorf("failed to unlock user: %w", err)
	}

	fmt.Printf("User %s unlocked\n", user.Email)
	return nil
}

func runUserDelete(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	user, err := findUserByEmail(cmd.Context(), db, args[0])
	if err != nil {
		return err
	}

	if !userDeleteYes {
		ok, err := prompt.Confirm(fmt.Sprintf("Delete user %s and all their data?", user.Email), false)
		if err != nil {
			if prompt.IsAborted(err) {
				return nil
			}
			return err
		}
		if !ok {
			fmt.Println("Aborted")
			return nil
		}
	}

	if err := db.DeleteUser(cmd.Context(), user.ID); err != nil {
		if errors.Is(err, models.ErrUserHasSessions) {
			return fmt.Errorf("user %s has live sessions; revoke them first", user.Email)
		}
		return fmt.Errorf("failed to delete user: %w", err)
	}

	fmt.Printf("User %s deleted\n", user.Email)
	return nil
}

func findUserByEmail(ctx context.Context, db *store.GORMStore, email string) (*models.User, error) {
	user, err := db.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return nil, fmt.Errorf("no user with email %q", email)
		}
		return nil, err
	}
	return user, nil
}

func userStatus(u *models.User, now time.Time) string {
	switch {
	case u.Locked:
		return "locked"
	case u.LockUntil != nil && u.LockUntil.After(now):
		return "backoff"
	default:
		return "active"
	}
}

func formatUserTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format("2006-01-02 15:04")
}
