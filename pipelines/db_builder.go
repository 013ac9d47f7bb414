package pipelines

import (
	"context"

	"github.com/scttfrdmn/pipekit/pipeline"
	"github.com/scttfrdmn/pipekit/tools"
	"github.com/scttfrdmn/pipekit/worker"
)

// DBBuilder is the name of the db-builder pipeline.
const DBBuilder = "db-builder"

// Context keys of db-builder.
const (
	KeyRequirements = "requirements_writer_output"
	KeyDesign       = "designer_output"
	KeySchema       = "sql_writer_output"
	KeyDatabase     = "database_builder_output"
)

func init() {
	register(Definition{
		Name:        DBBuilder,
		Description: "Design a SQLite database from a description and build it",
		InitialKey:  KeyUserRequest,
		FinalKey:    KeyDatabase,
		build:       buildDBBuilder,
	})
}

func buildDBBuilder(d Deps) (*pipeline.Pipeline, error) {
	reqW, err := d.llmWorker("requirements_writer", "requirements_writer.txt",
		"Database description:\n{{.user_request}}")
	if err != nil {
		return nil, err
	}
	requirements, err := pipeline.NewStep("requirements_writer", KeyRequirements, reqW,
		pipeline.Reads(KeyUserRequest),
		pipeline.Persist(d.Artifacts, "requirements.md"))
	if err != nil {
		return nil, err
	}

	designW, err := d.llmWorker("designer", "designer.txt",
		"Requirements:\n{{.requirements_writer_output}}")
	if err != nil {
		return nil, err
	}
	design, err := pipeline.NewStep("designer", KeyDesign, designW,
		pipeline.Reads(KeyRequirements),
		pipeline.Persist(d.Artifacts, "design.md"))
	if err != nil {
		return nil, err
	}

	sqlW, err := d.llmWorker("sql_writer", "sql_writer.txt",
		"Design:\n{{.designer_output}}")
	if err != nil {
		return nil, err
	}
	schema, err := pipeline.NewStep("sql_writer", KeySchema,
		then(sqlW, func(out any) (any, error) {
			return tools.ExtractSQL(pipeline.TextOf(out))
		}),
		pipeline.Reads(KeyDesign),
		pipeline.Persist(d.Artifacts, "schema.sql"))
	if err != nil {
		return nil, err
	}

	buildW, err := worker.NewToolWorker("build_database", d.buildDatabase, d.Artifacts)
	if err != nil {
		return nil, err
	}
	build, err := pipeline.NewStep("database_builder", KeyDatabase, buildW,
		pipeline.Reads(KeySchema),
		pipeline.Persist(d.Artifacts, "database.sqlite"),
		pipeline.AsReference())
	if err != nil {
		return nil, err
	}

	root := pipeline.NewSequential("root_db_builder", requirements, design, schema, build)
	return pipeline.New(DBBuilder, root,
		d.options(KeyUserRequest, "Writes requirements, a design and DDL, then builds the SQLite file")...)
}

// buildDatabase executes the schema into a fresh SQLite file and returns its bytes.
func (d Deps) buildDatabase(ctx context.Context, in pipeline.View) (any, error) {
	image, statements, err := tools.BuildDatabaseImage(ctx, in.Text(KeySchema))
	if err != nil {
		return nil, err
	}
	d.Logger.InfoContext(ctx, "database built", "statements", statements, "bytes", len(image))
	return image, nil
}
