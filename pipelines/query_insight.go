package pipelines

import (
	"context"
	"fmt"
	"strings"

	"github.com/scttfrdmn/pipekit/pipeline"
	"github.com/scttfrdmn/pipekit/tools"
	"github.com/scttfrdmn/pipekit/worker"
)

// QueryToInsight is the name of the query-to-insight pipeline.
const QueryToInsight = "query-to-insight"

// Context keys of query-to-insight.
const (
	KeyUserRequest = "user_request"
	KeyIntent      = "intent"
	KeyQuery       = "query_writer_output"
	KeyData        = "data_extraction_output"
	KeyAnalysis    = "analyze_agent_output"
	KeyInsight     = "insight_agent_output"
)

func init() {
	register(Definition{
		Name:        QueryToInsight,
		Description: "Answer a question about the course catalogue: classify, write SQL, fetch, analyze, summarize",
		InitialKey:  KeyUserRequest,
		FinalKey:    KeyInsight,
		build:       buildQueryToInsight,
	})
}

func buildQueryToInsight(d Deps) (*pipeline.Pipeline, error) {
	intentW, err := d.llmWorker("intent_classifier", "intent.txt", "Request: {{.user_request}}")
	if err != nil {
		return nil, err
	}
	intent, err := pipeline.NewStep("intent_classifier", KeyIntent,
		then(intentW, func(out any) (any, error) {
			return tools.NormalizeIntent(pipeline.TextOf(out)), nil
		}),
		pipeline.Reads(KeyUserRequest))
	if err != nil {
		return nil, err
	}

	queryW, err := d.llmWorker("query_writer", "query_writer.txt",
		"Intent: {{.intent}}\nRequest: {{.user_request}}")
	if err != nil {
		return nil, err
	}
	query, err := pipeline.NewStep("query_writer", KeyQuery,
		then(queryW, func(out any) (any, error) {
			return tools.ExtractSQL(pipeline.TextOf(out))
		}),
		pipeline.Reads(KeyUserRequest, KeyIntent),
		pipeline.Persist(d.Artifacts, "sql_query.txt"),
		pipeline.AsReference())
	if err != nil {
		return nil, err
	}

	fetchW, err := worker.NewToolWorker("fetch_data", d.fetchData, d.Artifacts)
	if err != nil {
		return nil, err
	}
	fetch, err := pipeline.NewStep("data_extraction", KeyData, fetchW,
		pipeline.Reads(KeyQuery),
		pipeline.Persist(d.Artifacts, "query_results.txt"))
	if err != nil {
		return nil, err
	}

	analyzeW, err := worker.NewToolWorker("analyze_data", analyzeData, d.Artifacts)
	if err != nil {
		return nil, err
	}
	analyze, err := pipeline.NewStep("analyze", KeyAnalysis, analyzeW,
		pipeline.Reads(KeyData, KeyIntent),
		pipeline.Persist(d.Artifacts, "analysis_results.txt"))
	if err != nil {
		return nil, err
	}

	narrator, err := d.llmWorker("insight_writer", "insight.txt",
		"Request: {{.user_request}}\nIntent: {{.intent}}\n\nFindings:\n{{.findings}}")
	if err != nil {
		return nil, err
	}
	insightW, err := worker.NewToolWorker("generate_insights", insightsWith(narrator), d.Artifacts)
	if err != nil {
		return nil, err
	}
	insight, err := pipeline.NewStep("insight", KeyInsight, insightW,
		pipeline.Reads(KeyAnalysis, KeyIntent, KeyUserRequest),
		pipeline.Persist(d.Artifacts, "insights.txt"))
	if err != nil {
		return nil, err
	}

	root := pipeline.NewSequential("root_query_to_insight", intent, query, fetch, analyze, insight)
	return pipeline.New(QueryToInsight, root,
		d.options(KeyUserRequest, "Turns a natural language question into SQL, data, analysis and insights")...)
}

func (d Deps) fetchData(ctx context.Context, in pipeline.View) (any, error) {
	if d.DatabasePath == "" {
		return nil, fmt.Errorf("no database configured")
	}
	q, err := tools.OpenDatabase(d.DatabasePath)
	if err != nil {
		return nil, err
	}
	defer q.Close()

	query, err := tools.ExtractSQL(in.Text(KeyQuery))
	if err != nil {
		return nil, err
	}
	return q.Run(ctx, query)
}

func analyzeData(ctx context.Context, in pipeline.View) (any, error) {
	t, err := tableFrom(in[KeyData])
	if err != nil {
		return nil, err
	}
	return tools.Analyze(t, in.Text(KeyIntent))
}

// insightsWith phrases the analysis and asks narrator for a summary of it.
func insightsWith(narrator pipeline.Worker) worker.ToolFunc {
	return func(ctx context.Context, in pipeline.View) (any, error) {
		t, err := tableFrom(in[KeyAnalysis])
		if err != nil {
			return nil, err
		}
		intent := tools.NormalizeIntent(in.Text(KeyIntent))
		findings := strings.Join(tools.Insights(t, intent), "\n")

		summary, err := narrator.Invoke(ctx, pipeline.View{
			KeyUserRequest: in.Text(KeyUserRequest),
			KeyIntent:      intent,
			"findings":     findings,
		})
		if err != nil {
			return nil, err
		}
		return fmt.Sprintf("## %s\n\n%s\n\n%s\n", tools.IntentTitle(intent), pipeline.TextOf(summary), findings), nil
	}
}

func tableFrom(v any) (*tools.Table, error) {
	switch t := v.(type) {
	case *tools.Table:
		return t, nil
	case tools.Table:
		return &t, nil
	default:
		return tools.ParseTSVString(pipeline.TextOf(v))
	}
}
