package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scttfrdmn/pipekit/pipelines"
)

var validateCmd = &cobra.Command{
	Use:   "validate <pipeline>...",
	Short: "Build pipelines and check their structure without running them",
	Long: "Builds each named pipeline (all of them when none is named) and validates\n" +
		"that every step's inputs are produced before it runs and that no output\n" +
		"key is written twice. Uses the demo model, so no credentials are needed.",
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	names := args
	if len(names) == 0 {
		names = pipelines.Names()
	}
	out := cmd.OutOrStdout()
	deps := pipelines.Deps{Model: pipelines.DemoModel(), Logger: logger}

	failed := 0
	for _, name := range names {
		p, err := pipelines.Build(name, deps)
		if err == nil {
			err = p.Validate()
		}
		if err != nil {
			failed++
			fmt.Fprintf(out, "FAIL %s: %v\n", name, err)
			continue
		}
		fmt.Fprintf(out, "ok   %s\n", name)
		fmt.Fprint(out, p.Describe())
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d pipelines are invalid", failed, len(names))
	}
	return nil
}
