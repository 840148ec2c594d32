// Command integration-bootstrap signs in interactively and writes the
// credential and config used by the live E2E tests into .testdata/.
//
// Usage: go run ./cmd/integration-bootstrap [--dir .testdata]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pkg/browser"

	"github.com/tonimelisma/abide/internal/config"
	"github.com/tonimelisma/abide/internal/session"
	"github.com/tonimelisma/abide/testutil"
)

func main() {
	dir := flag.String("dir", "", "credential directory (default <module root>/.testdata)")
	flag.Parse()

	if *dir == "" {
		*dir = filepath.Join(testutil.FindModuleRoot("."), ".testdata")
	}

	if err := run(context.Background(), *dir); err != nil {
		fmt.Fprintf(os.Stderr, "bootstrap failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, dir string) error {
	logger := slog.Default()

	testutil.LoadDotEnv(filepath.Join(testutil.FindModuleRoot("."), ".env"))

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	cfgPath := filepath.Join(dir, testutil.ConfigFileName)
	if err := config.WriteTemplate(cfgPath, logger); err != nil {
		if !errors.Is(err, config.ErrConfigExists) {
			return err
		}

		logger.Info("keeping existing config", slog.String("path", cfgPath))
	}

	env := config.ReadEnvOverrides(logger)

	// The E2E binary reads only the copied config, so the OAuth client
	// must be stored in it.
	for key, value := range map[string]string{
		"auth.client_id":     env.ClientID,
		"auth.client_secret": env.ClientSecret,
	} {
		if value == "" {
			continue
		}

		if err := config.SetKey(cfgPath, key, value, logger); err != nil {
			return err
		}
	}

	env.ConfigPath = cfgPath
	env.TokenFile = filepath.Join(dir, testutil.TokenFileName)

	resolved, err := config.Resolve(env, config.CLIOverrides{}, logger)
	if err != nil {
		return err
	}

	if err := config.RequireClientID(&resolved.Auth); err != nil {
		return err
	}

	user, err := session.Open(resolved, browser.OpenURL, logger).SignIn(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Signed in as %s. Credential saved to %s.\n", user.Label(), resolved.TokenPath)

	return nil
}
