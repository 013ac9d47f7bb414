// pipekit runs LLM pipelines from the command line.
//
// Usage:
//
//	pipekit list
//	pipekit validate <pipeline>
//	pipekit run <pipeline> --input "Which courses sell best?"
//	pipekit chat <pipeline>
//	pipekit seed-db [--path datatechcon.db]
//	pipekit serve [--addr localhost:8080]
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
