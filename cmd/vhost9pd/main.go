// Command vhost9pd exports a host directory over 9P2000.L. Errors
// propagate up to a single top-level RunE and the process exits non-zero
// on failure.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rezroo/vhost-9pfs/server"
	"github.com/rezroo/vhost-9pfs/vfs"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		root    string
		addr    string
		network string
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "vhost9pd",
		Short: "Serve a directory tree over 9P2000.L",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(verbose)
			if err != nil {
				return err
			}
			defer log.Sync()

			fs, err := vfs.NewOSFS(root)
			if err != nil {
				return fmt.Errorf("vhost9pd: %w", err)
			}

			lis, err := net.Listen(network, addr)
			if err != nil {
				return fmt.Errorf("vhost9pd: listen: %w", err)
			}
			log.Info("listening", zap.String("network", network), zap.String("addr", lis.Addr().String()), zap.String("root", root))

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()
			return server.ListenAndServe(ctx, lis, fs, log)
		},
	}
	cmd.Flags().StringVar(&root, "root", ".", "directory to export")
	cmd.Flags().StringVar(&addr, "addr", ":5640", "address to listen on")
	cmd.Flags().StringVar(&network, "network", "tcp", "listener network (tcp, unix)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	return cmd
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
