package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/oneplace-ai/toolbox-provisioner/internal/config"
	"github.com/oneplace-ai/toolbox-provisioner/internal/deploy"
	"github.com/oneplace-ai/toolbox-provisioner/internal/server"
	"github.com/oneplace-ai/toolbox-provisioner/internal/store"
	"github.com/oneplace-ai/toolbox-provisioner/pkg/toolsconfig"
)

type metadataStore interface {
	deploy.Store
	Close()
}

var openStoreFn = func(ctx context.Context, cfg *config.Config) (metadataStore, error) {
	return store.Open(ctx, store.Options{
		DSN:            cfg.Database.DSN,
		MaxConns:       cfg.Database.MaxConns,
		ConnectTimeout: time.Duration(cfg.Database.ConnectTimeoutMs) * time.Millisecond,
	})
}

type compileOptions struct {
	cfgPath  string
	serverID string
	output   string
}

func newCompileCmd() *cobra.Command {
	opts := compileOptions{cfgPath: defaultConfigPath}
	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile the tools.yaml of a server from the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}
	fs := cmd.Flags()
	fs.StringVarP(&opts.cfgPath, "config", "c", defaultConfigPath, "config yaml path")
	fs.StringVar(&opts.serverID, "server-id", "", "tenant server id")
	fs.StringVarP(&opts.output, "output", "o", "", "write to file instead of stdout")
	return cmd
}

func runCompile(ctx context.Context, opts compileOptions, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	serverID := strings.TrimSpace(opts.serverID)
	if serverID == "" {
		return errors.New("--server-id is required")
	}
	cfg, err := config.Load(opts.cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := openStoreFn(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.Server(ctx, serverID); err != nil {
		return err
	}
	rows, err := db.ToolRows(ctx, serverID)
	if err != nil {
		return err
	}
	b, err := server.NewCompiler(cfg).Render(rows)
	if err != nil {
		return err
	}
	if opts.output == "" {
		_, err = out.Write(b)
		return err
	}
	if err := os.WriteFile(opts.output, b, 0o644); err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "wrote %s (%d bytes)\n", opts.output, len(b))
	return err
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <tools.yaml>",
		Short: "Check the structure of a tools.yaml document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(args[0], cmd.OutOrStdout())
		},
	}
}

func runValidate(path string, out io.Writer) error {
	// #nosec G304 -- path is an operator-supplied argument.
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := toolsconfig.ValidateDocument(b); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	_, err = fmt.Fprintf(out, "%s: ok\n", path)
	return err
}
