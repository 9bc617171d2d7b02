package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"go.pilab.hu/sociallink/domain"
	"go.pilab.hu/sociallink/internal/auth"
	"go.pilab.hu/sociallink/internal/server"
	"go.pilab.hu/sociallink/log"
)

const minPasswordLen = 8

func newUsersCmd() *cobra.Command {
	users := &cobra.Command{
		Use:     "users",
		Aliases: []string{"user"},
		Short:   "Manage local users for the password login",
	}

	var id, username, email, password, collection string
	seed := &cobra.Command{
		Use:   "seed",
		Short: "Insert a local user with a bcrypt password hash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			record, err := seedRecord(id, username, email, password)
			if err != nil {
				return err
			}
			if collection == "" {
				collection = appConfig.SocialLogin.UserModel
			}
			if collection == "" {
				collection = "users"
			}

			return withRepositories(ctx, func(repos *server.Repositories) error {
				if err := repos.Writer.InsertUser(ctx, collection, record); err != nil {
					if domain.IsConflict(err) {
						return fmt.Errorf("user %q already exists: %w", username, err)
					}
					return err
				}
				appLogger.Info(ctx, "user seeded", log.Fields{
					"collection": collection,
					"username":   username,
				})
				return nil
			})
		},
	}
	seed.Flags().StringVar(&id, "id", "", "explicit primary key (sqlite and postgres assign one when empty)")
	seed.Flags().StringVar(&username, "username", "", "login name")
	seed.Flags().StringVar(&email, "email", "", "email address")
	seed.Flags().StringVar(&password, "password", "", "plain text password, stored as a bcrypt hash")
	seed.Flags().StringVar(&collection, "collection", "", "user table (default is social_login.user_model)")
	_ = seed.MarkFlagRequired("username")
	_ = seed.MarkFlagRequired("password")

	users.AddCommand(seed)
	return users
}

func seedRecord(id, username, email, password string) (domain.UserRecord, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", errUsage)
	}
	if len(password) < minPasswordLen {
		return nil, fmt.Errorf("%w: password must be at least %d characters", errUsage, minPasswordLen)
	}
	hash, err := auth.NewBcryptPasswordHasher(0).Hash(password)
	if err != nil {
		return nil, err
	}

	record := domain.UserRecord{
		"username": username,
		"password": hash,
		"active":   true,
	}
	if id != "" {
		record["id"] = id
	}
	if email != "" {
		record["email"] = email
	}
	return record, nil
}
