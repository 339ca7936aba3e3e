package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/searchme/configs"
	"github.com/Aman-CERP/searchme/internal/config"
)

const configLong = `Settings are merged from these sources, later ones winning:

  1. built-in defaults
  2. user config      ~/.config/searchme/config.yaml
  3. project config   .searchme.yaml in the indexed directory
  4. .env             in the indexed directory
  5. environment      SEARCHME_*`

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage user configuration",
		Long:  configLong,
		Example: `  searchme config init
  searchme config init --project ~/Documents
  searchme config show --json
  searchme config path`,
	}

	var force bool
	var project string
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with the defaults",
		Long: `Write the defaults to the user configuration file. An existing
file is kept unless --force is given, in which case it is backed up first.

With --project DIR a commented .searchme.yaml template is written to DIR.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if project != "" {
				return initProjectConfig(cmd.OutOrStdout(), project, force)
			}
			return initUserConfig(cmd.OutOrStdout(), force)
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite existing configuration (a backup is kept)")
	initCmd.Flags().StringVar(&project, "project", "", "Write a project template into this directory")

	var asJSON bool
	showCmd := &cobra.Command{
		Use:   "show [path]",
		Short: "Show the merged configuration for a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			root, err := config.ResolveRoot(dir)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			return dumpConfig(cmd.OutOrStdout(), cfg, asJSON)
		},
	}
	showCmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	cmd.AddCommand(initCmd, showCmd, &cobra.Command{
		Use:   "path",
		Short: "Print the user config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return err
		},
	})
	return cmd
}

func initProjectConfig(out io.Writer, dir string, force bool) error {
	root, err := config.ResolveRoot(dir)
	if err != nil {
		return err
	}
	path := filepath.Join(root, "."+config.AppName+".yaml")
	if _, err := os.Stat(path); err == nil && !force {
		printf(out, "Project configuration already exists: %s\nUse --force to replace it with the template\n", path)
		return nil
	}
	if err := os.WriteFile(path, []byte(configs.ProjectConfigTemplate), 0o644); err != nil {
		return fmt.Errorf("write project config: %w", err)
	}
	printf(out, "Created project configuration: %s\n", path)
	return nil
}

func initUserConfig(out io.Writer, force bool) error {
	path := config.GetUserConfigPath()
	if config.UserConfigExists() {
		if !force {
			printf(out, "User configuration already exists: %s\nUse --force to replace it with the defaults (a backup is kept)\n", path)
			return nil
		}
		backup, err := config.BackupUserConfig()
		if err != nil {
			return fmt.Errorf("back up user config: %w", err)
		}
		printf(out, "Backup: %s\n", backup)
	}
	if err := config.NewConfig().WriteYAML(path); err != nil {
		return err
	}
	printf(out, "Created user configuration: %s\n", path)
	return nil
}

func dumpConfig(out io.Writer, cfg *config.Config, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}
