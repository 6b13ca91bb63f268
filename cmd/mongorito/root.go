package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/waigo/mongorito/core"
	"github.com/waigo/mongorito/internal/config"
	"github.com/waigo/mongorito/internal/ctxlog"
)

// app holds the state shared by the commands of one invocation.
type app struct {
	configFile string
	output     string
	v          *viper.Viper
	cfg        *config.Config
	conn       *core.Connection
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New()}

	rootCmd := &cobra.Command{
		Use:           "mongorito",
		Short:         "Query and modify documents through mongorito models",
		Long:          `mongorito connects to a MongoDB, PostgreSQL, SQLite, in-memory or file store and runs model queries against its collections.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (default: ./mongorito.yaml)")
	flags.StringSlice("url", nil, "store url, repeat for failover")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: text or json")
	flags.StringVarP(&a.output, "output", "o", "json", "output format: json or yaml")
	_ = a.v.BindPFlag(config.KeyURLs, flags.Lookup("url"))
	_ = a.v.BindPFlag(config.KeyLogLevel, flags.Lookup("log-level"))
	_ = a.v.BindPFlag(config.KeyLogFormat, flags.Lookup("log-format"))

	rootCmd.AddCommand(
		a.findCmd(),
		a.countCmd(),
		a.removeCmd(),
		a.insertCmd(),
		a.indexCmd(),
		a.indexesCmd(),
		driversCmd(),
		versionCmd(),
	)
	return rootCmd
}

// connect loads the configuration, installs the logger and opens the
// store. Commands that touch data use it as their PersistentPreRunE.
func (a *app) connect(cmd *cobra.Command, _ []string) error {
	switch a.output {
	case "json", "yaml":
	default:
		return fmt.Errorf("unknown output format %q", a.output)
	}

	cfg, err := config.Load(a.v, a.configFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	level, err := ctxlog.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger, err := ctxlog.New(cmd.ErrOrStderr(), level, cfg.Log.Format)
	if err != nil {
		return err
	}
	ctx := ctxlog.WithLogger(cmd.Context(), logger)
	cmd.SetContext(ctx)

	conn, err := core.Connect(ctx, cfg.URLs...)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	a.conn = conn
	return nil
}

func (a *app) disconnect(cmd *cobra.Command, _ []string) error {
	if a.conn == nil {
		return nil
	}
	err := a.conn.Close(cmd.Context())
	a.conn = nil
	return err
}

// model returns a model over the named collection bound to the open
// connection.
func (a *app) model(collection string) *core.Model {
	return core.NewModel(core.NewSchema(collection), core.WithConnection(a.conn))
}

// dataCmd wires a command that needs an open store.
func (a *app) dataCmd(cmd *cobra.Command) *cobra.Command {
	cmd.PreRunE = a.connect
	cmd.PostRunE = a.disconnect
	return cmd
}

func driversCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drivers",
		Short: "List the registered URL schemes",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, scheme := range core.Drivers() {
				fmt.Fprintln(cmd.OutOrStdout(), scheme)
			}
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the mongorito version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mongorito %s\n", version)
		},
	}
}
