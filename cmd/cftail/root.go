package main

import (
	"fmt"

	"github.com/clarabennett2626/cftail/internal/config"
	"github.com/clarabennett2626/cftail/internal/tail"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// app holds state shared by the subcommands.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
}

// flagKeys maps persistent flags onto config keys.
var flagKeys = map[string]string{
	"api":           config.KeyAPI,
	"token":         config.KeyToken,
	"interval":      config.KeyInterval,
	"max-interval":  config.KeyMaxInterval,
	"max-attempts":  config.KeyMaxAttempts,
	"retry-every":   config.KeyRetryEvery,
	"fetch-timeout": config.KeyFetchTimeout,
	"local":         config.KeyLocalDir,
	"nats-url":      config.KeyNATSURL,
	"nats-prefix":   config.KeyNATSPrefix,
	"theme":         config.KeyTheme,
	"plain":         config.KeyPlain,
	"log-level":     config.KeyLogLevel,
	"log-file":      config.KeyLogFile,
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New()}

	root := &cobra.Command{
		Use:   "cftail",
		Short: "Tail the logs of Cloud Foundry application instances",
		Long: `cftail follows the staging log of an application instance and then its
stdout and stderr logs, retrying while the instance is not reachable yet.`,
		SilenceUsage: true,
		Version:      version,
	}
	root.SetVersionTemplate(`{{printf "cftail version %s\n" .Version}}`)

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default is "+config.DefaultDir()+"/config.yaml)")
	pf.String("api", "", "Cloud Controller URL")
	pf.String("token", "", "bearer token for the Cloud Controller")
	pf.Duration("interval", tail.DefaultInterval, "pause between polls of a log file")
	pf.Duration("max-interval", 0, "let the pause double up to this while a log file has no new content (0 keeps it constant)")
	pf.Int("max-attempts", tail.DefaultMaxAttempts, "consecutive failures before a log file is given up")
	pf.Int("retry-every", tail.DefaultMessageEvery, "print a waiting message every N failures (0 disables)")
	pf.Duration("fetch-timeout", tail.DefaultFetchTimeout, "timeout of a single fetch")
	pf.String("local", "", "read instance logs from a local directory instead of the API")
	pf.String("nats-url", "", "NATS server used by --nats")
	pf.String("nats-prefix", "cftail", "subject prefix used by --nats")
	pf.String("theme", "dark", "colour theme (dark or light)")
	pf.Bool("plain", false, "disable colours")
	pf.String("log-level", "warn", "diagnostics log level")
	pf.String("log-file", "", "diagnostics log file used by watch")

	if err := bindFlags(a.v, pf); err != nil {
		panic(err)
	}

	root.AddCommand(newTailCmd(a), newWatchCmd(a), newConfigCmd(a), newVersionCmd())
	return root
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return fmt.Errorf("binding flag %s: %w", name, err)
		}
	}
	return nil
}

// load reads and validates the configuration once.
func (a *app) load() error {
	if a.cfg != nil {
		return nil
	}
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

func newConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(); err != nil {
				return err
			}
			out, err := a.cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of cftail",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cftail %s (%s) built %s\n", version, commit, date)
		},
	}
}
