package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/scttfrdmn/pipekit/pipeline"
	"github.com/scttfrdmn/pipekit/pipelines"
)

var runFlags struct {
	input     string
	inputFile string
	set       []string
	runID     string
	jsonOut   bool
}

var runCmd = &cobra.Command{
	Use:   "run <pipeline>",
	Short: "Run a pipeline once and print its answer",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringVarP(&runFlags.input, "input", "i", "", "Value of the pipeline's initial key")
	f.StringVar(&runFlags.inputFile, "input-file", "", "Read the initial value from a file (- for stdin)")
	f.StringArrayVar(&runFlags.set, "set", nil, "Extra initial context entry as key=value (repeatable)")
	f.StringVar(&runFlags.runID, "run-id", "", "Run identifier (default: random)")
	f.BoolVar(&runFlags.jsonOut, "json", false, "Print the whole result as JSON")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	def, ok := pipelines.Lookup(args[0])
	if !ok {
		return fmt.Errorf("unknown pipeline %q (available: %s)", args[0], strings.Join(pipelines.Names(), ", "))
	}

	initial, err := initialContext(cmd.InOrStdin(), def.InitialKey)
	if err != nil {
		return err
	}
	if v := cfg.Validator(); v != nil {
		if err := v.Check(initial); err != nil {
			return err
		}
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

	var opts []pipeline.RunOption
	if runFlags.runID != "" {
		opts = append(opts, pipeline.WithRunID(runFlags.runID))
	}
	res, err := p.Run(ctx, initial, opts...)
	if err != nil {
		if failed := pipeline.FailedSteps(err); len(failed) > 0 {
			return fmt.Errorf("%w (failed steps: %s)", err, strings.Join(failed, ", "))
		}
		return err
	}

	out := cmd.OutOrStdout()
	if runFlags.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"run_id":      res.RunID,
			"pipeline":    res.Pipeline,
			"duration_ms": res.Duration.Milliseconds(),
			"output":      res.Text(def.FinalKey),
			"context":     res.Context,
			"artifacts":   res.Artifacts,
		})
	}

	fmt.Fprintln(out, res.Text(def.FinalKey))
	if len(res.Artifacts) > 0 {
		w := table.NewWriter()
		w.SetOutputMirror(out)
		w.SetStyle(table.StyleLight)
		w.AppendHeader(table.Row{"Artifact", "Location", "Bytes"})
		for _, a := range res.Artifacts {
			w.AppendRow(table.Row{a.Name, a.URI, a.Size})
		}
		w.Render()
	}

	if rt.recorder != nil {
		history, err := rt.recorder.History(ctx, res.RunID)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Run %s: %d checkpoints\n", res.RunID, len(history))
	}
	return nil
}

func initialContext(stdin io.Reader, key string) (map[string]any, error) {
	initial := make(map[string]any)
	for _, kv := range runFlags.set {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("--set %q: want key=value", kv)
		}
		initial[k] = v
	}

	value := runFlags.input
	switch {
	case runFlags.inputFile == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		value = string(data)
	case runFlags.inputFile != "":
		data, err := os.ReadFile(runFlags.inputFile)
		if err != nil {
			return nil, fmt.Errorf("read input: %w", err)
		}
		value = string(data)
	}
	value = strings.TrimSpace(value)
	if value != "" {
		initial[key] = value
	}
	if _, ok := initial[key]; !ok {
		return nil, fmt.Errorf("no input: pass --input, --input-file or --set %s=...", key)
	}
	return initial, nil
}
