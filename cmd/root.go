// Package cmd wires the copycat command line: the progress watcher, the job
// commands and the development server.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"copycat/api"
	"copycat/config"
	"copycat/progress"
)

// Version is set at build time
var Version = "dev"

// app carries what every command needs once the config is loaded
type app struct {
	viper *viper.Viper
	cfg   *config.Config
	out   io.Writer
}

// NewRootCmd builds the command tree. Output of the commands goes to out.
func NewRootCmd(out io.Writer) *cobra.Command {
	a := &app{viper: viper.New(), out: out}

	root := &cobra.Command{
		Use:           "copycat",
		Short:         "Queue server side copy jobs and watch their progress",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}
	root.SetOut(out)

	flags := root.PersistentFlags()
	flags.StringP("config", "c", "", "config file (default $HOME/.copycat/config.yaml)")
	flags.String("api-base", "", "copy server base url")
	flags.String("token", "", "bearer token sent to the copy server")
	flags.String("log-level", "", "debug, info, warn or error")
	flags.Bool("json", false, "print results as json")

	root.AddCommand(
		a.newWatchCmd(),
		a.newCopyCmd(),
		a.newQueueCmd(),
		a.newHistoryCmd(),
		a.newJobCmd(),
		a.newCancelCmd(),
		a.newRetryCmd(),
		a.newPriorityCmd(),
		a.newReorderCmd(),
		a.newClearCmd(),
		a.newBrowseCmd(),
		a.newMkdirCmd(),
		a.newRmCmd(),
		a.newServerCmd(),
	)
	return root
}

// Execute runs the root command until it finishes or the process is
// interrupted
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func (a *app) load(cmd *cobra.Command) error {
	configFile, _ := cmd.Flags().GetString("config")

	for key, flag := range map[string]string{
		"api_base":  "api-base",
		"token":     "token",
		"log_level": "log-level",
	} {
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			a.viper.Set(key, f.Value.String())
		}
	}

	cfg, err := config.Load(a.viper, configFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	setupLogging(cfg.SlogLevel())
	slog.Debug("config loaded", "path", cfg.Path, "api_base", cfg.APIBase)
	return nil
}

// setupLogging installs a tint handler on stderr as the default logger
func setupLogging(level slog.Level) {
	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})
	slog.SetDefault(slog.New(handler))
}

func (a *app) jsonOutput(cmd *cobra.Command) bool {
	asJSON, _ := cmd.Flags().GetBool("json")
	return asJSON
}

func (a *app) apiClient() (*api.Client, error) {
	return api.New(api.Options{
		BaseURL:  a.cfg.APIBase,
		Token:    a.cfg.Token,
		CacheTTL: a.cfg.CacheTTL,
	})
}

// progressManager builds the stream manager for the configured server. The
// caller runs it.
func (a *app) progressManager() (*progress.Manager, error) {
	streamURL, err := progress.StreamURL(a.cfg.APIBase)
	if err != nil {
		return nil, err
	}
	return progress.NewManager(progress.Options{
		URL:              streamURL,
		ReconnectDelay:   a.cfg.Stream.ReconnectDelay,
		GraceDelay:       a.cfg.Stream.GraceDelay,
		HandshakeTimeout: a.cfg.Stream.HandshakeTimeout,
		Dialer: &progress.WebsocketDialer{
			HandshakeTimeout: a.cfg.Stream.HandshakeTimeout,
			Token:            a.cfg.Token,
		},
	}), nil
}
