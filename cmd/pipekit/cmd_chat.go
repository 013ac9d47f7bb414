package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scttfrdmn/pipekit/pipelines"
	"github.com/scttfrdmn/pipekit/repl"
)

var chatFlags struct {
	plain bool
}

var chatCmd = &cobra.Command{
	Use:   "chat <pipeline>",
	Short: "Run a pipeline interactively, one request per line",
	Args:  cobra.ExactArgs(1),
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().BoolVar(&chatFlags.plain, "plain", false, "Print answers without markdown rendering or colors")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	def, ok := pipelines.Lookup(args[0])
	if !ok {
		return fmt.Errorf("unknown pipeline %q", args[0])
	}

	rt, err := newRuntime(ctx, runtimeOptions{})
	if err != nil {
		return err
	}
	defer rt.close(ctx)

	p, err := pipelines.Build(def.Name, rt.deps)
	if err != nil {
		return err
	}
	session, err := repl.New(p, repl.Options{
		InitialKey: def.InitialKey,
		FinalKey:   def.FinalKey,
		Plain:      chatFlags.plain,
		Validator:  cfg.Validator(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	return session.Run(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
}
