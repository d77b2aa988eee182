package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/eficia/eficia-api/internal/domain/admin"
	"github.com/eficia/eficia-api/internal/pkg/database"
	"github.com/eficia/eficia-api/internal/pkg/jwt"
)

func init() {
	rootCmd.AddCommand(createAdminCmd)
	rootCmd.AddCommand(tokenCmd)

	createAdminCmd.Flags().String("email", "", "Admin email (required)")
	createAdminCmd.Flags().String("name", "", "Display name")
	createAdminCmd.Flags().String("password", "", "Password, read from ADMIN_PASSWORD when empty")
	_ = createAdminCmd.MarkFlagRequired("email")

	tokenCmd.Flags().String("email", "", "Email carried in the token")
	tokenCmd.Flags().Duration("ttl", 0, "Token lifetime, JWT_ACCESS_TTL when zero")
}

var createAdminCmd = &cobra.Command{
	Use:   "create-admin",
	Short: "Create a super admin account",
	Long: `create-admin bootstraps the first super admin. Further admins are
created from the admin API by a super admin.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		name, _ := cmd.Flags().GetString("name")
		pwd, _ := cmd.Flags().GetString("password")
		if pwd == "" {
			pwd = os.Getenv("ADMIN_PASSWORD")
		}
		if len(pwd) < 8 {
			return errors.New("password must be at least 8 characters (flag --password or ADMIN_PASSWORD)")
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer database.ClosePostgres(db)

		svc := admin.NewService(admin.NewRepository(db), nil, nil, nil)
		a, err := svc.Bootstrap(cmd.Context(), email, pwd, strings.TrimSpace(name))
		if errors.Is(err, admin.ErrEmailTaken) {
			return fmt.Errorf("an admin with email %s already exists", email)
		}
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stdout, "Created %s %s (%s)\n", a.Role, a.Email, a.ID)
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token USER_ID",
	Short: "Issue a user access token for local testing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.IsProduction() {
			return errors.New("token issuing is disabled in production")
		}
		userID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid user id: %w", err)
		}
		email, _ := cmd.Flags().GetString("email")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		if ttl <= 0 {
			ttl = cfg.JWTAccessTTL
		}
		if ttl <= 0 {
			ttl = 15 * time.Minute
		}

		token, err := jwt.NewService(cfg.JWTSecret, ttl).GenerateAccessToken(userID, email)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, token)
		return nil
	},
}
