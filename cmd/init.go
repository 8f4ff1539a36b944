package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/ticketbay/internal/config"
)

func (c *cli) newInitCmd() *cobra.Command {
	var (
		force      bool
		driver     string
		storePath  string
		ledgerPath string
		owner      string
		market     string
		admins     []string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Long: `Write the commented default config to --config (default .ticketbay/config.yaml).

Store and directory flags are written into the new file.

Examples:
  ticketbay init
  ticketbay init --driver sqlite --store-path ~/.ticketbay/escrow.db
  ticketbay init --owner root --marketplace market --admin carol --admin dave`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := c.cfgFile
			if path == "" {
				path = localConfigPath
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			defaults := config.Defaults()
			flags := cmd.Flags()

			var store *config.StoreConfig
			if flags.Changed("driver") || flags.Changed("store-path") || flags.Changed("ledger-path") {
				store = &config.StoreConfig{Driver: driver, Path: storePath, LedgerPath: ledgerPath}
				if store.Driver == "" {
					store.Driver = defaults.Store.Driver
				}
				if store.Driver == config.DriverSQLite && store.Path == "" {
					store.Path = defaults.Store.Path
				}
				if err := config.ValidateStore(*store); err != nil {
					return err
				}
			}

			var dir *config.DirectoryConfig
			if flags.Changed("owner") || flags.Changed("marketplace") || flags.Changed("admin") {
				dir = &config.DirectoryConfig{Owner: owner, Marketplace: market, Admins: admins}
				if dir.Owner == "" {
					dir.Owner = defaults.Directory.Owner
				}
				if dir.Marketplace == "" {
					dir.Marketplace = defaults.Directory.Marketplace
				}
				if err := config.ValidateDirectory(*dir); err != nil {
					return err
				}
			}

			if err := config.WriteDefaultConfig(path); err != nil {
				return err
			}
			if store != nil {
				if err := config.SaveStore(path, *store); err != nil {
					return err
				}
			}
			if dir != nil {
				if err := config.SaveDirectory(path, *dir); err != nil {
					return err
				}
			}

			// Read the result back so a bad combination is reported now.
			v := viper.New()
			v.SetConfigFile(path)
			if _, err := config.Load(v); err != nil {
				return err
			}

			fmt.Fprintf(c.out, "Wrote %s\n", path)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.BoolVarP(&force, "force", "f", false, "overwrite an existing config file")
	flags.StringVar(&driver, "driver", "", "store driver: memory or sqlite")
	flags.StringVar(&storePath, "store-path", "", "sqlite store file")
	flags.StringVar(&ledgerPath, "ledger-path", "", "sqlite ledger file (default: ledger.db beside the store)")
	flags.StringVar(&owner, "owner", "", "directory owner identity")
	flags.StringVar(&market, "marketplace", "", "authorized marketplace identity")
	flags.StringArrayVar(&admins, "admin", nil, "admin identity (repeatable)")
	return cmd
}

func (c *cli) newLogLevelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "log-level <debug|info|warn|error>",
		Short: "Set log.level in the config file",
		Long: `Set log.level in the config file in use.

A ticketbay process running with --debug watches its config file and applies
the new level without restarting.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := c.configPath()
			if err := config.SaveLogLevel(path, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "log.level = %s in %s\n", args[0], path)
			return nil
		},
	}
}
