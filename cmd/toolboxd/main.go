// Command toolboxd serves the deployment API and owns the proxy
// configuration file.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/oneplace-ai/toolbox-provisioner/internal/server"
	"github.com/oneplace-ai/toolbox-provisioner/internal/version"
)

// Exit codes.
const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

var (
	runServer    = server.Run
	signalReload = server.SignalReload
)

type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cmd := newDaemonCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	err := cmd.Execute()
	if err == nil {
		return exitOK
	}
	_, _ = fmt.Fprintln(stderr, err)
	if _, ok := err.(usageError); ok {
		return exitUsage
	}
	return exitError
}

func newDaemonCmd() *cobra.Command {
	var (
		cfgPath     string
		signal      string
		showVersion bool
	)
	cmd := &cobra.Command{
		Use:           "toolboxd",
		Short:         "Toolbox provisioner daemon",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if showVersion {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), version.Get())
				return err
			}
			switch s := strings.ToLower(strings.TrimSpace(signal)); s {
			case "":
				return runServer(cfgPath)
			case "reload":
				return signalReload(cfgPath)
			default:
				return usageError{msg: fmt.Sprintf("unsupported signal %q (supported: reload)", s)}
			}
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{msg: err.Error()}
	})
	f := cmd.Flags()
	f.StringVarP(&cfgPath, "config", "c", "toolboxd.yaml", "path to config yaml")
	f.StringVarP(&signal, "signal", "s", "", "send a signal to the running daemon (supported: reload)")
	f.BoolVar(&showVersion, "version", false, "show version information")
	return cmd
}
