// Package repl runs a pipeline interactively: every line the user types
// becomes the initial request of a new run, stage events are printed as
// they stream in and the final answer is rendered as markdown.
package repl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/scttfrdmn/pipekit/events"
	"github.com/scttfrdmn/pipekit/pipeline"
	"github.com/scttfrdmn/pipekit/safety"
)

// Options configures a Session.
type Options struct {
	// InitialKey receives each input line.
	InitialKey string
	// FinalKey is printed as the answer. Empty prints the key written last.
	FinalKey string
	// Bus streams stage events. Defaults to a private bus.
	Bus *events.Bus
	// Plain disables markdown rendering and colors.
	Plain bool
	// Width wraps rendered markdown. Default: 100.
	Width int
	// Hooks are attached to every run in addition to the bus.
	Hooks []pipeline.Hooks
	// Validator screens each request before it runs. Optional.
	Validator *safety.Validator
	Logger    *slog.Logger
}

// Session is an interactive loop around one pipeline.
type Session struct {
	pipeline *pipeline.Pipeline
	opts     Options
	logger   *slog.Logger
}

// New creates a session for p.
func New(p *pipeline.Pipeline, opts Options) (*Session, error) {
	if p == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if opts.InitialKey == "" {
		keys := p.InitialKeys()
		if len(keys) != 1 {
			return nil, fmt.Errorf("pipeline %q needs exactly one initial key, has %d", p.Name(), len(keys))
		}
		opts.InitialKey = keys[0]
	}
	if opts.Bus == nil {
		opts.Bus = events.NewBus(0, opts.Logger)
	}
	if opts.Width <= 0 {
		opts.Width = 100
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{pipeline: p, opts: opts, logger: logger.With("component", "repl")}, nil
}

const helpText = `Type a request and press enter to run the pipeline on it.

Commands:
  help           show this message
  quit, exit, :q end the session`

// Run reads lines from in until a quit command, EOF or cancellation of ctx.
func (s *Session) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	st := newStyles(out, s.opts.Plain)

	fmt.Fprintln(out, st.title.Render(fmt.Sprintf("pipekit: %s", s.pipeline.Name())))
	if d := s.pipeline.Description(); d != "" {
		fmt.Fprintln(out, d)
	}
	fmt.Fprintln(out, "Type 'help' for commands, 'quit' to exit.")

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, st.prompt.Render("> "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch strings.ToLower(line) {
		case "":
			continue
		case "quit", "exit", ":q":
			fmt.Fprintln(out, "Goodbye!")
			return nil
		case "help":
			fmt.Fprintln(out, helpText)
			continue
		}

		s.handle(ctx, line, out, st)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// handle runs the pipeline on one request and prints its events and answer.
func (s *Session) handle(ctx context.Context, request string, out io.Writer, st styles) {
	if s.opts.Validator != nil {
		if err := s.opts.Validator.Validate(request); err != nil {
			fmt.Fprintln(out, st.err.Render("Error: "+err.Error()))
			return
		}
	}
	runID := uuid.New().String()
	stream, cancel := s.opts.Bus.Subscribe(runID)
	defer cancel()

	type result struct {
		res *pipeline.Result
		err error
	}
	done := make(chan result, 1)
	go func() {
		hooks := append([]pipeline.Hooks{s.opts.Bus}, s.opts.Hooks...)
		res, err := s.pipeline.Run(ctx, map[string]any{s.opts.InitialKey: request},
			pipeline.WithRunID(runID),
			pipeline.WithRunHooks(hooks...))
		done <- result{res, err}
	}()

	n := 0
	printEvent := func(e events.Event) {
		n++
		fmt.Fprintln(out, st.event.Render(fmt.Sprintf("=== Event #%d ===", n)))
		fmt.Fprintln(out, describeEvent(e))
	}

	var r result
wait:
	for {
		select {
		case e := <-stream:
			printEvent(e)
		case r = <-done:
			break wait
		}
	}
	// Publishing is synchronous, so every event of the run is buffered by now.
	for drained := false; !drained; {
		select {
		case e := <-stream:
			printEvent(e)
		default:
			drained = true
		}
	}

	if r.err != nil {
		s.logger.Debug("run failed", "run_id", runID, "error", r.err)
		fmt.Fprintln(out, st.err.Render("Error: "+r.err.Error()))
		if failed := pipeline.FailedSteps(r.err); len(failed) > 0 {
			fmt.Fprintf(out, "Failed steps: %s\n", strings.Join(failed, ", "))
		}
		return
	}

	key := s.opts.FinalKey
	if key == "" {
		key = r.res.Final()
	}
	fmt.Fprintln(out, st.title.Render("=== Agent Response ==="))
	fmt.Fprintln(out, s.render(r.res.Text(key)))

	if len(r.res.Artifacts) > 0 {
		fmt.Fprintln(out, artifactTable(r.res.Artifacts, s.opts.Plain))
	}
	fmt.Fprintf(out, "Run %s finished in %s\n", runID, r.res.Duration.Round(time.Millisecond))
}

func describeEvent(e events.Event) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s %s", e.Type, e.Kind, e.Path)
	if e.Key != "" {
		fmt.Fprintf(&sb, " -> %s", e.Key)
	}
	if e.Artifact != "" {
		fmt.Fprintf(&sb, " [%s]", e.Artifact)
	}
	if e.Type != events.StageStarted {
		fmt.Fprintf(&sb, " (%dms)", e.DurationMS)
	}
	if e.Error != "" {
		fmt.Fprintf(&sb, "\n  error: %s", e.Error)
	}
	return sb.String()
}

// render formats markdown for the terminal. Plain sessions and render
// failures print the text as is.
func (s *Session) render(text string) string {
	if s.opts.Plain || text == "" {
		return text
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(s.opts.Width),
	)
	if err != nil {
		s.logger.Debug("markdown renderer unavailable", "error", err)
		return text
	}
	rendered, err := r.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(rendered, "\n")
}

func artifactTable(refs []pipeline.ArtifactRef, plain bool) string {
	w := table.NewWriter()
	if plain {
		w.SetStyle(table.StyleDefault)
	} else {
		w.SetStyle(table.StyleLight)
	}
	w.SetTitle("Artifacts")
	w.AppendHeader(table.Row{"#", "Name", "Location", "Bytes"})
	for i, ref := range refs {
		w.AppendRow(table.Row{i + 1, ref.Name, ref.URI, ref.Size})
	}
	return w.Render()
}

type styles struct {
	title, prompt, event, err lipgloss.Style
}

func newStyles(out io.Writer, plain bool) styles {
	r := lipgloss.NewRenderer(out)
	if plain {
		s := r.NewStyle()
		return styles{title: s, prompt: s, event: s, err: s}
	}
	return styles{
		title:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED")),
		prompt: r.NewStyle().Foreground(lipgloss.Color("#04B575")),
		event:  r.NewStyle().Foreground(lipgloss.Color("#626262")),
		err:    r.NewStyle().Foreground(lipgloss.Color("#EF4444")),
	}
}
