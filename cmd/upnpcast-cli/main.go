// Command upnpcast-cli is a small command-line front end over the upnpcast facade: it
// can discover renderers on the LAN, cast a media URL to one, and send transport/volume
// control actions to whichever device was last cast to.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/yoakerin/upnpcast"
)

var logLevel string

// main wires signal-driven shutdown: SIGINT/SIGTERM cancel a root context that every
// subcommand derives its Facade from, so an in-flight search or cast unwinds instead
// of being killed mid-socket-read.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "upnpcast-cli",
		Short:         "Discover and control DLNA/UPnP media renderers",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	bindGlobalFlags(cmd.PersistentFlags())
	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		lvl, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid --log-level: %w", err)
		}
		logrus.SetLevel(lvl)
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		return nil
	}

	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newCastCmd())
	cmd.AddCommand(newControlCmd())
	return cmd
}

func bindGlobalFlags(fs *pflag.FlagSet) {
	fs.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
}

// withFacade initializes the shared Facade and registers its teardown, run by every
// subcommand's RunE before doing anything else.
func withFacade(cmd *cobra.Command) (*upnpcast.Facade, func(), error) {
	f := upnpcast.New(upnpcast.DefaultConfig())
	if err := f.Init(cmd.Context()); err != nil {
		return nil, nil, fmt.Errorf("initialize upnpcast: %w", err)
	}
	return f, func() {
		if err := f.Release(); err != nil {
			logrus.WithError(err).Warn("error releasing upnpcast facade")
		}
	}, nil
}
