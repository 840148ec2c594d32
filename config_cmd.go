package main

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/abide/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigSetCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	}
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a commented config file",
		Args:  cobra.NoArgs,
		RunE:  runConfigInit,
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "set SECTION.KEY VALUE",
		Short:   "Set one config value, keeping comments and other keys",
		Example: "  abide config set auth.client_id 1234.apps.googleusercontent.com\n  abide config set upload.default_tags funny,cats",
		Args:    cobra.ExactArgs(2),
		RunE:    runConfigSet,
	}
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if cc.Flags.JSON {
		enc := json.NewEncoder(cc.Out)
		enc.SetIndent("", "  ")

		return enc.Encode(cc.Cfg)
	}

	return config.RenderEffective(cc.Cfg, cc.Out)
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	err := config.WriteTemplate(cc.Cfg.ConfigPath, cc.Logger)
	if errors.Is(err, config.ErrConfigExists) {
		cc.Statusf("Config file already exists at %s.\n", cc.Cfg.ConfigPath)
		return nil
	}

	if err != nil {
		return err
	}

	cc.Statusf("Wrote %s.\n", cc.Cfg.ConfigPath)

	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	if err := config.SetKey(cc.Cfg.ConfigPath, args[0], args[1], cc.Logger); err != nil {
		return err
	}

	cc.Statusf("Set %s in %s.\n", args[0], cc.Cfg.ConfigPath)

	return nil
}
