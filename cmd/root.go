package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/ticketbay/internal/config"
	"github.com/zjrosen/ticketbay/internal/log"
)

var version = "dev"

const localConfigPath = ".ticketbay/config.yaml"

// cli carries the state shared by every subcommand of one invocation.
type cli struct {
	v       *viper.Viper
	cfgFile string
	debug   bool
	cfg     config.Config

	out io.Writer

	logCleanup func()
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd(os.Stdout).Execute()
}

// SetVersion sets the version string (called from main with ldflags).
func SetVersion(v string) {
	version = v
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{v: viper.New(), out: out}

	root := &cobra.Command{
		Use:   "ticketbay",
		Short: "Escrow marketplace for verified event tickets",
		Long: `Ticketbay runs an escrow-mediated marketplace for uniquely owned tickets.

Tickets are minted, verified by an admin, listed by their owner and bought into
escrow. Payment is held until both parties confirm, an admin resolves a dispute,
or the confirmation period elapses and anyone releases it.`,
		Version:           version,
		SilenceUsage:      true,
		PersistentPreRunE: c.setup,
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.logCleanup != nil {
				c.logCleanup()
			}
		},
	}
	root.SetOut(out)

	root.PersistentFlags().StringVarP(&c.cfgFile, "config", "c", "",
		"config file (default: .ticketbay/config.yaml, then ~/.config/ticketbay/config.yaml)")
	root.PersistentFlags().BoolVarP(&c.debug, "debug", "d", false,
		"write a debug log (also enabled by TICKETBAY_DEBUG)")

	root.AddCommand(
		c.newInitCmd(),
		c.newExecCmd(),
		c.newEventsCmd(),
		c.newShowCmd(),
		c.newBalancesCmd(),
		c.newLogLevelCmd(),
	)
	return root
}

// setup loads configuration and starts debug logging before any subcommand runs.
func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == "init" {
		return nil
	}
	if err := c.loadConfig(); err != nil {
		return err
	}
	return c.initLogging()
}

func (c *cli) loadConfig() error {
	c.v.SetEnvPrefix("TICKETBAY")
	c.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	c.v.AutomaticEnv()

	if c.cfgFile != "" {
		c.v.SetConfigFile(c.cfgFile)
	} else if _, err := os.Stat(localConfigPath); err == nil {
		c.v.SetConfigFile(localConfigPath)
	} else {
		home, _ := os.UserHomeDir()
		c.v.AddConfigPath(filepath.Join(home, ".config", "ticketbay"))
		c.v.SetConfigName("config")
		c.v.SetConfigType("yaml")
	}

	cfg, err := config.Load(c.v)
	if err != nil {
		return err
	}
	c.cfg = cfg

	// First run with no config anywhere: leave a commented default behind.
	if c.cfgFile == "" && c.v.ConfigFileUsed() == "" {
		if err := config.WriteDefaultConfig(localConfigPath); err == nil {
			c.v.SetConfigFile(localConfigPath)
		}
	}
	return nil
}

func (c *cli) initLogging() error {
	if !c.debug && os.Getenv("TICKETBAY_DEBUG") == "" {
		return nil
	}

	logPath := c.cfg.Log.Path
	if env := os.Getenv("TICKETBAY_LOG"); env != "" {
		logPath = env
	}
	if logPath == "" {
		logPath = "ticketbay.log"
	}

	cleanup, err := log.Init(logPath)
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	c.logCleanup = cleanup
	config.ApplyLogLevel(c.cfg.Log)
	log.Info(log.CatCLI, "ticketbay starting", "version", version, "logPath", logPath)

	if used := c.v.ConfigFileUsed(); used != "" {
		if _, err := os.Stat(used); err == nil {
			config.Watch(c.v, func(cfg config.Config) {
				config.ApplyLogLevel(cfg.Log)
			})
		}
	}
	return nil
}

// configPath is the file edited by commands that write configuration.
func (c *cli) configPath() string {
	if c.cfgFile != "" {
		return c.cfgFile
	}
	if used := c.v.ConfigFileUsed(); used != "" {
		return used
	}
	return localConfigPath
}
