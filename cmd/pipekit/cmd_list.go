package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/scttfrdmn/pipekit/pipelines"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the available pipelines",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func runList(cmd *cobra.Command, _ []string) error {
	w := table.NewWriter()
	w.SetOutputMirror(cmd.OutOrStdout())
	w.SetStyle(table.StyleLight)
	w.AppendHeader(table.Row{"Pipeline", "Input", "Output", "Description"})
	for _, name := range pipelines.Names() {
		def, _ := pipelines.Lookup(name)
		w.AppendRow(table.Row{def.Name, def.InitialKey, def.FinalKey, def.Description})
	}
	w.Render()
	return nil
}
