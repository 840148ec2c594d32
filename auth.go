package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/abide/internal/auth"
	"github.com/tonimelisma/abide/internal/config"
	"github.com/tonimelisma/abide/internal/session"
)

// signOutWait bounds how long logout waits for the revoke call.
const signOutWait = 10 * time.Second

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Sign in with your Google account in the browser",
		RunE:  runLogin,
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and revoke the saved credential",
		RunE:  runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the signed-in account",
		RunE:  runWhoami,
	}
}

// openBrowser launches the consent page. Browser helper output goes to
// stderr so stdout stays machine readable.
func openBrowser(url string) error {
	browser.Stdout = os.Stderr
	browser.Stderr = os.Stderr

	return browser.OpenURL(url)
}

// openSession builds a session from the CLI context without restoring any
// saved credential.
func openSession(cc *CLIContext) *session.Session {
	return session.Open(cc.Cfg, openBrowser, cc.Logger)
}

// signedInSession opens a session and restores the saved credential. It
// fails with auth.ErrNotSignedIn when there is nothing to restore.
func signedInSession(cc *CLIContext) (*session.Session, error) {
	if err := config.RequireClientID(&cc.Cfg.Auth); err != nil {
		return nil, err
	}

	s := openSession(cc)

	ok, err := s.Resume()
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, auth.ErrNotSignedIn
	}

	return s, nil
}

func runLogin(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if err := config.RequireClientID(&cc.Cfg.Auth); err != nil {
		return err
	}

	cc.Logger.Info("login started", "folder", cc.Cfg.Drive.FolderName)

	user, err := openSession(cc).SignIn(cmd.Context())
	if err != nil {
		return err
	}

	cc.Logger.Info("login successful", "account", user.Label())
	cc.Statusf("Signed in as %s.\n", user.Label())

	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	s := openSession(cc)

	ok, err := s.Resume()
	if err != nil {
		cc.Logger.Warn("saved credential unreadable, removing it", "error", err)
	}

	if !ok && err == nil {
		cc.Statusf("Not signed in.\n")
		return nil
	}

	account := s.Account()

	if err := s.SignOut(cmd.Context()); err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), signOutWait)
	defer cancel()

	if err := s.Wait(waitCtx); err != nil {
		cc.Logger.Warn("revoke did not finish", "error", err)
	}

	cc.Logger.Info("logout successful", "account", account)
	cc.Statusf("Signed out.\n")

	return nil
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	Subject string `json:"subject,omitempty"`
	Folder  string `json:"folder"`
	State   string `json:"state"`
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	s, err := signedInSession(cc)
	if err != nil {
		return err
	}

	user, err := s.WhoAmI(cmd.Context())
	if err != nil {
		return fmt.Errorf("identifying account: %w", err)
	}

	out := whoamiOutput{
		Email:   user.Email,
		Name:    user.Name,
		Subject: user.Subject,
		Folder:  cc.Cfg.Drive.FolderName,
		State:   s.State().String(),
	}

	if cc.Flags.JSON {
		enc := json.NewEncoder(cc.Out)
		enc.SetIndent("", "  ")

		return enc.Encode(out)
	}

	fmt.Fprintf(cc.Out, "Account: %s\n", user.Label())

	if user.Name != "" {
		fmt.Fprintf(cc.Out, "Name:    %s\n", user.Name)
	}

	fmt.Fprintf(cc.Out, "Folder:  %s\n", out.Folder)

	return nil
}
