package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"go.pilab.hu/sociallink/domain"
	"go.pilab.hu/sociallink/internal/audit"
	"go.pilab.hu/sociallink/internal/server"
	"go.pilab.hu/sociallink/linkstore"
	"go.pilab.hu/sociallink/log"
)

type linkOutput struct {
	ID               int64     `yaml:"id"`
	Provider         string    `yaml:"provider"`
	ProviderUID      string    `yaml:"provider_uid"`
	ProviderUsername string    `yaml:"provider_username,omitempty"`
	Email            string    `yaml:"email,omitempty"`
	CreatedAt        time.Time `yaml:"created_at"`
	UpdatedAt        time.Time `yaml:"updated_at"`
}

func toLinkOutput(a *domain.SocialAccount) linkOutput {
	out := linkOutput{
		ID:               a.ID(),
		Provider:         a.Provider(),
		ProviderUID:      a.ProviderUID(),
		ProviderUsername: a.ProviderUsername(),
		CreatedAt:        a.CreatedAt(),
		UpdatedAt:        a.UpdatedAt(),
	}
	if p := a.Profile(); p != nil {
		out.Email = p.Email
	}
	return out
}

func newLinksCmd() *cobra.Command {
	links := &cobra.Command{
		Use:     "links",
		Aliases: []string{"link"},
		Short:   "Inspect and remove social account links",
	}

	var ownerType, ownerID, provider string
	addOwnerFlags := func(c *cobra.Command) {
		c.Flags().StringVar(&ownerType, "owner-type", "", "owner type (default is social_login.user_model)")
		c.Flags().StringVar(&ownerID, "owner-id", "", "local user id")
		_ = c.MarkFlagRequired("owner-id")
	}
	resolveOwnerType := func() string {
		if ownerType != "" {
			return ownerType
		}
		if appConfig.SocialLogin.UserModel != "" {
			return appConfig.SocialLogin.UserModel
		}
		return "users"
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List the links of one local user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRepositories(cmd.Context(), func(repos *server.Repositories) error {
				accounts, err := linkstore.New(repos.Accounts).ListByOwner(cmd.Context(), resolveOwnerType(), ownerID)
				if err != nil {
					return err
				}
				out := make([]linkOutput, 0, len(accounts))
				for _, a := range accounts {
					out = append(out, toLinkOutput(a))
				}
				return printYAML(cmd.OutOrStdout(), out)
			})
		},
	}
	addOwnerFlags(list)

	unlink := &cobra.Command{
		Use:   "unlink",
		Short: "Remove the link between a local user and a provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return withRepositories(ctx, func(repos *server.Repositories) error {
				store := linkstore.New(repos.Accounts)
				account, err := store.FindByOwnerAndProvider(ctx, resolveOwnerType(), ownerID, provider)
				if err != nil {
					return err
				}
				if account == nil {
					return fmt.Errorf("%w: %s", domain.ErrNotLinked, provider)
				}
				err = store.Delete(ctx, account)
				audit.Log(audit.Event{
					Source:      "cli",
					Action:      audit.ActionUnlink,
					OwnerType:   account.OwnerType(),
					OwnerID:     ownerID,
					Provider:    provider,
					ProviderUID: account.ProviderUID(),
				}, err)
				if err != nil {
					return err
				}
				appLogger.Info(ctx, "link removed", log.Fields{
					"owner_id": ownerID,
					"provider": provider,
				})
				return nil
			})
		},
	}
	addOwnerFlags(unlink)
	unlink.Flags().StringVar(&provider, "provider", "", "provider name")
	_ = unlink.MarkFlagRequired("provider")

	links.AddCommand(list, unlink)
	return links
}
