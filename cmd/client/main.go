package main

import (
	"errors"
	"fmt"
	"log"

	"github.com/spf13/cobra"
)

type options struct {
	server    string
	transport string
	name      string
}

func (o *options) validate() error {
	if o.transport != "udp" && o.transport != "tcp" {
		return fmt.Errorf("invalid transport %q (must be udp or tcp)", o.transport)
	}
	if o.name == "" {
		return errors.New("--name is required")
	}
	return nil
}

// addr fills in the transport's default port when no server was given.
func (o *options) addr() string {
	if o.server != "" {
		return o.server
	}
	if o.transport == "tcp" {
		return "localhost:8889"
	}
	return "localhost:8888"
}

func newCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "quizcast-client",
		Short:         "Terminal client for a quizcast trivia server.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.validate(); err != nil {
				return err
			}
			return run(cmd.Context(), o)
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&o.server, "server", "s", "", "server address as host:port (default localhost with the transport's port)")
	fs.StringVarP(&o.transport, "transport", "t", "udp", "transport to use: udp or tcp")
	fs.StringVarP(&o.name, "name", "n", "", "display name to join as")

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})

	return cmd
}

func main() {
	log.SetFlags(0)

	o := &options{}
	cobra.CheckErr(newCmd(o).Execute())
}
