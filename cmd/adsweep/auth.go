package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	adslog "github.com/nao1215/adsweep/internal/log"
	"github.com/nao1215/adsweep/internal/store"
)

// NewAuthCmd creates the auth command.
func NewAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Show or change the stored login",
		Long: `Auth manages the login state sessions read at startup. Saving offers
requires a logged in user.

Examples:
  # Show who is logged in
  adsweep auth

  # Store a login
  adsweep auth --email ana@example.com --token "$ADSWEEP_TOKEN"

  # Log out
  adsweep auth --clear`,
		Args: cobra.NoArgs,
		RunE: runAuthCmd,
	}
	cmd.Flags().String("email", "", "Email of the logged in user")
	cmd.Flags().String("token", "", "Access token of the logged in user")
	cmd.Flags().Bool("clear", false, "Remove the stored login")
	return cmd
}

func runAuthCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := baseConfig(cmd, nil)
	if err != nil {
		return err
	}
	email, err := cmd.Flags().GetString("email")
	if err != nil {
		return err
	}
	token, err := cmd.Flags().GetString("token")
	if err != nil {
		return err
	}
	logout, err := cmd.Flags().GetBool("clear")
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Verbose)
	st, err := store.Open(cfg.DBDir, store.DefaultOptions())
	if err != nil {
		return err
	}
	defer closeStore(st, logger)

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	switch {
	case logout:
		if err := st.SaveAuth(ctx, store.Auth{}); err != nil {
			return err
		}
		fmt.Fprintln(out, "Logged out.")
		return nil
	case email != "" || token != "":
		email = strings.TrimSpace(email)
		if email == "" || strings.TrimSpace(token) == "" {
			return errors.New("both --email and --token are required")
		}
		if err := st.SaveAuth(ctx, store.Auth{AccessToken: token, UserEmail: email}); err != nil {
			return err
		}
		fmt.Fprintf(out, "Logged in as %s.\n", adslog.MaskEmail(email))
		return nil
	}

	auth, err := st.LoadAuth(ctx)
	if err != nil {
		return err
	}
	if !auth.LoggedIn() {
		fmt.Fprintln(out, "Not logged in.")
		return nil
	}
	fmt.Fprintf(out, "Logged in as %s.\n", adslog.MaskEmail(auth.UserEmail))
	return nil
}
