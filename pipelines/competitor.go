package pipelines

import (
	"fmt"
	"strings"

	"github.com/scttfrdmn/pipekit/pipeline"
	"github.com/scttfrdmn/pipekit/tools"
	"github.com/scttfrdmn/pipekit/worker"
)

// CompetitorAnalysis is the name of the competitor-analysis pipeline.
const CompetitorAnalysis = "competitor-analysis"

// CompetitorCount is the number of competitors analyzed in parallel.
const CompetitorCount = 5

// Context keys of competitor-analysis.
const (
	KeyCompany     = "company"
	KeyCompetitors = "competitor_identifier_output"
	KeyCompetitor  = "competitor"
	KeyAnalyzer    = "competitor_analyzer_output"
	KeySWOT        = "swot_analyzer_output"
	KeyReport      = "report_generator_output"
)

// Competitors is the structured answer of the competitor identifier.
type Competitors struct {
	Competitors []string `json:"competitors" jsonschema:"minItems=5,maxItems=5"`
}

// String renders the competitors as a numbered list.
func (c Competitors) String() string {
	var sb strings.Builder
	for i, name := range c.Competitors {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, name)
	}
	return sb.String()
}

func init() {
	register(Definition{
		Name:        CompetitorAnalysis,
		Description: "Identify a company's competitors, analyze each, write a SWOT and an HTML report",
		InitialKey:  KeyCompany,
		FinalKey:    KeyReport,
		build:       buildCompetitorAnalysis,
	})
}

func buildCompetitorAnalysis(d Deps) (*pipeline.Pipeline, error) {
	instruction, err := worker.LoadInstructions(prompts, "prompts/competitor_identifier.txt")
	if err != nil {
		return nil, err
	}
	identifyW, err := worker.NewStructuredWorker[Competitors]("competitors", &worker.LLMWorkerConfig{
		Name:        "competitor_identifier",
		Model:       d.Model,
		Instruction: instruction,
		Prompt:      "Company: {{.company}}",
		Options:     d.Options,
		Logger:      d.Logger,
	})
	if err != nil {
		return nil, err
	}
	identify, err := pipeline.NewStep("competitor_identifier", KeyCompetitors,
		then(d.resilient(identifyW), func(out any) (any, error) {
			c := out.(Competitors)
			if len(c.Competitors) < CompetitorCount {
				return nil, fmt.Errorf("expected %d competitors, got %d", CompetitorCount, len(c.Competitors))
			}
			c.Competitors = c.Competitors[:CompetitorCount]
			return c, nil
		}),
		pipeline.Reads(KeyCompany),
		pipeline.Persist(d.Artifacts, "competitors.txt"))
	if err != nil {
		return nil, err
	}

	analyzers := make([]pipeline.Worker, CompetitorCount)
	for i := range analyzers {
		analyzers[i], err = d.llmWorker(fmt.Sprintf("competitor_analyzer_%d", i+1), "competitor_analyzer.txt",
			"Company under study: {{.company}}\nCompetitor to analyze: {{.competitor}}")
		if err != nil {
			return nil, err
		}
	}
	analyze, err := pipeline.NewFanOut(pipeline.FanOutConfig{
		Name:           "competitor_analyzer",
		Count:          CompetitorCount,
		OutputKey:      KeyAnalyzer,
		Reads:          []string{KeyCompany, KeyCompetitors},
		Worker:         func(i int) pipeline.Worker { return analyzers[i] },
		Select:         pipeline.SelectItem(KeyCompetitors, KeyCompetitor),
		Timeout:        d.StageTimeout,
		MaxConcurrency: d.MaxConcurrency,
	})
	if err != nil {
		return nil, err
	}

	analyses := make([]string, CompetitorCount)
	for i := range analyses {
		analyses[i] = pipeline.IndexedKey(KeyAnalyzer, i)
	}

	swotW, err := d.llmWorker("swot_analyzer", "swot_analyzer.txt", "")
	if err != nil {
		return nil, err
	}
	swot, err := pipeline.NewStep("swot_analyzer", KeySWOT, swotW,
		pipeline.Reads(append([]string{KeyCompany}, analyses...)...),
		pipeline.Persist(d.Artifacts, "swot.md"))
	if err != nil {
		return nil, err
	}

	reportW, err := d.llmWorker("report_generator", "report_generator.txt", "")
	if err != nil {
		return nil, err
	}
	report, err := pipeline.NewStep("report_generator", KeyReport,
		then(reportW, func(out any) (any, error) {
			doc := tools.StripFence(pipeline.TextOf(out))
			if _, err := tools.CheckHTMLReport(doc); err != nil {
				return nil, err
			}
			return doc, nil
		}),
		pipeline.Reads(append([]string{KeyCompany, KeyCompetitors, KeySWOT}, analyses...)...),
		pipeline.Persist(d.Artifacts, "competitive_analysis_report.html"))
	if err != nil {
		return nil, err
	}

	root := pipeline.NewSequential("root_competitor_analysis", identify, analyze, swot, report)
	return pipeline.New(CompetitorAnalysis, root,
		d.options(KeyCompany, "Competitive landscape of a company as an HTML report")...)
}
