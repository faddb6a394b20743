package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/carhelperai/carhelper/internal/auth"
	"github.com/carhelperai/carhelper/internal/config"
	"github.com/carhelperai/carhelper/internal/store"
	"github.com/carhelperai/carhelper/pkg/models"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// accountStore is what user create writes through.
type accountStore interface {
	auth.Store
	UpdateUserProfile(ctx context.Context, id uuid.UUID, upd models.ProfileUpdate) (*models.User, error)
}

type createUserOptions struct {
	email    string
	password string
	name     string
	skill    string
}

func newUserCmd() *cobra.Command {
	flags := &dbFlags{}
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts",
	}
	flags.register(cmd)

	var opts createUserOptions
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := flags.databaseURL()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			st, closeFn, err := store.Open(ctx, config.DatabaseConfig{
				URL:          url,
				MaxOpenConns: 2,
			}, "")
			if err != nil {
				return err
			}
			defer closeFn()
			return runCreateUser(ctx, cmd.OutOrStdout(), st, opts)
		},
	}
	create.Flags().StringVar(&opts.email, "email", "", "account email (required)")
	create.Flags().StringVar(&opts.password, "password", "", "initial password (required)")
	create.Flags().StringVar(&opts.name, "name", "", "display name")
	create.Flags().StringVar(&opts.skill, "skill", models.SkillBeginner, "skill level: beginner, diy or pro")
	_ = create.MarkFlagRequired("email")
	_ = create.MarkFlagRequired("password")
	cmd.AddCommand(create)

	return cmd
}

func runCreateUser(ctx context.Context, out io.Writer, st accountStore, opts createUserOptions) error {
	if !models.ValidSkillLevel(opts.skill) {
		return fmt.Errorf("invalid skill level %q: must be beginner, diy or pro", opts.skill)
	}

	u, err := auth.NewService(st, 0).SignUp(ctx, auth.SignUpInput{
		Email:    opts.email,
		Password: opts.password,
		Name:     opts.name,
	})
	if errors.Is(err, auth.ErrEmailTaken) {
		return fmt.Errorf("an account for %s already exists", opts.email)
	}
	if err != nil {
		return err
	}

	if opts.skill != u.SkillLevel {
		if u, err = st.UpdateUserProfile(ctx, u.ID, models.ProfileUpdate{SkillLevel: &opts.skill}); err != nil {
			return fmt.Errorf("set skill level: %w", err)
		}
	}

	fmt.Fprintf(out, "created user %s (%s, skill %s)\n", u.ID, u.Email, u.SkillLevel)
	return nil
}
