package pipelines

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scttfrdmn/pipekit/adapter/llm"
	"github.com/scttfrdmn/pipekit/artifact"
	"github.com/scttfrdmn/pipekit/pipeline"
	"github.com/scttfrdmn/pipekit/tools"
)

func demoDeps(t *testing.T) (Deps, *llm.MockLLM, *artifact.MemoryStore) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "datatechcon.db")
	require.NoError(t, tools.SeedDemoDatabase(context.Background(), path, 42))

	model := DemoModel()
	store := artifact.NewMemoryStore()
	return Deps{Model: model, Artifacts: store, DatabasePath: path}, model, store
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{CompetitorAnalysis, DBBuilder, QueryToInsight}, Names())

	def, ok := Lookup(QueryToInsight)
	require.True(t, ok)
	assert.Equal(t, KeyUserRequest, def.InitialKey)
	assert.Equal(t, KeyInsight, def.FinalKey)

	_, ok = Lookup("nope")
	assert.False(t, ok)
}

func TestBuildErrors(t *testing.T) {
	_, err := Build("nope", Deps{Model: DemoModel()})
	assert.ErrorContains(t, err, "unknown pipeline")

	_, err = Build(QueryToInsight, Deps{})
	assert.ErrorContains(t, err, "model is required")
}

func TestEveryPipelineValidates(t *testing.T) {
	deps, _, _ := demoDeps(t)
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			p, err := Build(name, deps)
			require.NoError(t, err)
			require.NoError(t, p.Validate())

			def, _ := Lookup(name)
			assert.Equal(t, []string{def.InitialKey}, p.InitialKeys())
			assert.Contains(t, p.Outputs(), def.FinalKey)
		})
	}
}

func TestQueryToInsight(t *testing.T) {
	deps, model, store := demoDeps(t)
	p, err := Build(QueryToInsight, deps)
	require.NoError(t, err)

	res, err := p.Run(context.Background(), map[string]any{KeyUserRequest: "Which courses sell best?"})
	require.NoError(t, err)

	assert.Equal(t, tools.IntentCourseSales, res.Text(KeyIntent))

	query, ok := res.Context.Get(KeyQuery)
	require.True(t, ok)
	ref, ok := query.(pipeline.ArtifactRef)
	require.True(t, ok, "query is stored as a reference, got %T", query)
	sql, err := store.Load(context.Background(), ref)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(sql), "SELECT c.title"))

	data, ok := res.Context.Get(KeyData)
	require.True(t, ok)
	table, ok := data.(*tools.Table)
	require.True(t, ok)
	assert.Equal(t, []string{"title", "total_enrollments"}, table.Columns)
	assert.NotZero(t, table.Len())

	insight := res.Text(KeyInsight)
	assert.True(t, strings.HasPrefix(insight, "## Course Sales"), insight)
	assert.Contains(t, insight, "The top-selling course is")
	assert.Contains(t, insight, "Enrollments concentrate")
	assert.Equal(t, KeyInsight, res.Final())

	uris := store.URIs()
	require.Len(t, uris, 4)
	assert.Len(t, res.Artifacts, 4)
	for i, suffix := range []string{"sql_query.txt", "query_results.txt", "analysis_results.txt", "insights.txt"} {
		assert.True(t, strings.HasSuffix(uris[i], suffix), uris[i])
	}

	// intent, query writer, insight writer
	assert.Len(t, model.Calls(), 3)
}

func TestQueryToInsightWithoutDatabase(t *testing.T) {
	deps, _, _ := demoDeps(t)
	deps.DatabasePath = ""
	p, err := Build(QueryToInsight, deps)
	require.NoError(t, err)

	_, err = p.Run(context.Background(), map[string]any{KeyUserRequest: "Which courses sell best?"})
	require.Error(t, err)
	assert.Equal(t, []string{"data_extraction"}, pipeline.FailedSteps(err))
}

func TestDBBuilder(t *testing.T) {
	deps, _, store := demoDeps(t)
	p, err := Build(DBBuilder, deps)
	require.NoError(t, err)

	ctx := context.Background()
	res, err := p.Run(ctx, map[string]any{KeyUserRequest: "A catalogue of books and their authors"})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(res.Text(KeySchema), "CREATE TABLE authors"))

	v, ok := res.Context.Get(KeyDatabase)
	require.True(t, ok)
	ref, ok := v.(pipeline.ArtifactRef)
	require.True(t, ok)
	assert.Equal(t, "database.sqlite", ref.Name)

	image, err := store.Load(ctx, ref)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "built.db")
	require.NoError(t, os.WriteFile(path, image, 0644))

	q, err := tools.OpenDatabase(path)
	require.NoError(t, err)
	defer q.Close()
	tables, err := q.Run(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"authors"}, {"books"}}, tables.Rows)
}

func TestCompetitorAnalysis(t *testing.T) {
	deps, model, store := demoDeps(t)
	deps.MaxConcurrency = 2
	p, err := Build(CompetitorAnalysis, deps)
	require.NoError(t, err)

	res, err := p.Run(context.Background(), map[string]any{KeyCompany: "DataTechCon"})
	require.NoError(t, err)

	v, ok := res.Context.Get(KeyCompetitors)
	require.True(t, ok)
	competitors, ok := v.(Competitors)
	require.True(t, ok)
	assert.Len(t, competitors.Competitors, CompetitorCount)

	for i := 0; i < CompetitorCount; i++ {
		assert.True(t, res.Context.Has(pipeline.IndexedKey(KeyAnalyzer, i)))
	}
	assert.Contains(t, res.Text(KeySWOT), "## Threats")
	assert.True(t, strings.HasPrefix(res.Text(KeyReport), "<!DOCTYPE html>"))

	// Each analyzer is asked about its own competitor.
	asked := map[string]bool{}
	for _, call := range model.Calls() {
		user := call[len(call)-1].Content
		if strings.HasPrefix(user, "Company under study") {
			asked[user[strings.LastIndex(user, ": ")+2:]] = true
		}
	}
	assert.Len(t, asked, CompetitorCount)
	assert.True(t, asked["edX"])

	uris := store.URIs()
	assert.True(t, strings.HasSuffix(uris[len(uris)-1], "competitive_analysis_report.html"))
}

func TestCompetitorAnalysisTooFewCompetitors(t *testing.T) {
	deps, _, _ := demoDeps(t)
	deps.Model = llm.NewMockLLM(llm.MockRule{Match: "competitor identifier", Reply: `{"competitors": ["A", "B"]}`})
	p, err := Build(CompetitorAnalysis, deps)
	require.NoError(t, err)

	_, err = p.Run(context.Background(), map[string]any{KeyCompany: "DataTechCon"})
	require.Error(t, err)
	assert.ErrorContains(t, err, "expected 5 competitors, got 2")
}

func TestCompetitorReportMustBeHTML(t *testing.T) {
	deps, _, _ := demoDeps(t)
	deps.Model = llm.NewMockLLM(append([]llm.MockRule{
		{Match: "report generator", Reply: "Here is your report: it went well."},
	}, demoRules()...)...)
	p, err := Build(CompetitorAnalysis, deps)
	require.NoError(t, err)

	_, err = p.Run(context.Background(), map[string]any{KeyCompany: "DataTechCon"})
	require.Error(t, err)
	assert.Equal(t, []string{"report_generator"}, pipeline.FailedSteps(err))
}
