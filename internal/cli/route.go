package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/oneplace-ai/toolbox-provisioner/internal/config"
	"github.com/oneplace-ai/toolbox-provisioner/internal/logx"
	"github.com/oneplace-ai/toolbox-provisioner/internal/server"
	"github.com/oneplace-ai/toolbox-provisioner/pkg/proxyconf"
)

type routeOptions struct {
	cfgPath string
	file    string
	verbose bool
}

var newRouteManagerFn = func(opts routeOptions) (server.RouteManager, error) {
	cfg, err := config.Load(opts.cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if f := strings.TrimSpace(opts.file); f != "" {
		cfg.Proxy.ConfigFile = f
	}
	logger := zap.NewNop()
	if opts.verbose {
		if logger, err = logx.NewLogger("debug"); err != nil {
			return nil, err
		}
	}
	return server.NewProxyManager(cfg, logger)
}

func newRouteCmd() *cobra.Command {
	opts := &routeOptions{cfgPath: defaultConfigPath}
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Manage hostname routes in the proxy configuration",
	}
	fs := cmd.PersistentFlags()
	fs.StringVarP(&opts.cfgPath, "config", "c", defaultConfigPath, "config yaml path")
	fs.StringVar(&opts.file, "file", "", "proxy config file (overrides proxy.config_file)")
	fs.BoolVarP(&opts.verbose, "verbose", "v", false, "log proxy commands")

	cmd.AddCommand(
		newRouteAddCmd(opts),
		newRouteRemoveCmd(opts),
		newRouteListCmd(opts),
		newRouteReloadCmd(opts),
	)
	return cmd
}

func newRouteAddCmd(opts *routeOptions) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "add <hostname>",
		Short: "Route hostname to a local worker port",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := newRouteManagerFn(*opts)
			if err != nil {
				return err
			}
			return runRouteAdd(cmd.Context(), mgr, port, args[0], cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "local worker port")
	_ = cmd.MarkFlagRequired("port")
	return cmd
}

func runRouteAdd(ctx context.Context, mgr server.RouteManager, port int, hostname string, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	hostname = strings.TrimSpace(hostname)
	if err := mgr.AddRoute(ctx, port, hostname); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "added %s -> localhost:%d\n", hostname, port)
	return err
}

func newRouteRemoveCmd(opts *routeOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <hostname>",
		Aliases: []string{"rm"},
		Short:   "Remove every server block naming hostname",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := newRouteManagerFn(*opts)
			if err != nil {
				return err
			}
			return runRouteRemove(cmd.Context(), mgr, args[0], cmd.OutOrStdout())
		},
	}
}

func runRouteRemove(ctx context.Context, mgr server.RouteManager, hostname string, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	hostname = strings.TrimSpace(hostname)
	removed, err := mgr.RemoveRoute(ctx, hostname)
	if err != nil {
		return err
	}
	if !removed {
		_, err = fmt.Fprintf(out, "no route for %s\n", hostname)
		return err
	}
	_, err = fmt.Fprintf(out, "removed %s\n", hostname)
	return err
}

func newRouteListCmd(opts *routeOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List server blocks of the proxy configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := newRouteManagerFn(*opts)
			if err != nil {
				return err
			}
			return runRouteList(mgr, cmd.OutOrStdout())
		},
	}
}

func runRouteList(mgr server.RouteManager, out io.Writer) error {
	routes, err := mgr.Routes()
	if err != nil {
		return err
	}
	for _, r := range routes {
		if _, err := fmt.Fprintln(out, r); err != nil {
			return err
		}
	}
	return nil
}

func newRouteReloadCmd(opts *routeOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Run the proxy reload command",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := newRouteManagerFn(*opts)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if err := mgr.Reload(ctx); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "reloaded")
			return err
		},
	}
}

var _ server.RouteManager = (*proxyconf.Manager)(nil)
