// Package query sends natural-language prompts to the DuckDB acp extension
// and turns the tabular answer into a chat summary and a CSV payload.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/walkure/duckdb-acp-slack/pkg/config"
	"github.com/walkure/duckdb-acp-slack/pkg/telemetry"
)

const (
	// Verb is the extension command that takes the rest of the line as a
	// natural-language prompt.
	Verb = "CLAUDE"

	DefaultExtension  = "acp"
	DefaultRepository = "community"

	// NoResults is the summary for an empty result set.
	NoResults = "_No results_"
)

// Settings describes how every session is prepared before the prompt runs.
type Settings struct {
	Extension  string
	Repository string
	Databases  []config.Database
	InitSQL    string
}

// Answer is what goes back to the chat: a summary line and, when the query
// returned rows, the CSV rendering of the result.
type Answer struct {
	Summary string
	CSV     string
}

func (a Answer) HasCSV() bool {
	return a.CSV != ""
}

// Executor runs prompts. It holds no per-request state and is safe for
// concurrent use as long as its Dialer is.
type Executor struct {
	settings Settings
	dial     Dialer
	log      *slog.Logger
	metrics  *telemetry.Metrics
}

type Option func(*Executor)

// WithMetrics records query durations and failures on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// New returns an Executor for settings. The settings are copied.
func New(settings Settings, dial Dialer, logger *slog.Logger, opts ...Option) *Executor {
	settings.Databases = slices.Clone(settings.Databases)
	if settings.Extension == "" {
		settings.Extension = DefaultExtension
	}
	if settings.Repository == "" {
		settings.Repository = DefaultRepository
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &Executor{settings: settings, dial: dial, log: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ComposeCommand builds the backend command for prompt. The prompt is
// inserted verbatim: the extension parses everything after the verb as
// natural language, so it is neither quoted nor escaped.
func ComposeCommand(prompt string) string {
	return Verb + " " + prompt + ";"
}

// AttachStatement attaches db read-only under its name.
func AttachStatement(db config.Database) string {
	return fmt.Sprintf(`ATTACH '%s' AS "%s" (READ_ONLY);`, strings.ReplaceAll(db.Path, "'", "''"), db.Name)
}

// SetupStatements returns the statements run on each new session, in order.
func (e *Executor) SetupStatements() []string {
	stmts := []string{
		fmt.Sprintf("INSTALL %s FROM %s;", e.settings.Extension, e.settings.Repository),
		fmt.Sprintf("LOAD %s;", e.settings.Extension),
	}
	for _, db := range e.settings.Databases {
		stmts = append(stmts, AttachStatement(db))
	}
	if strings.TrimSpace(e.settings.InitSQL) != "" {
		stmts = append(stmts, e.settings.InitSQL)
	}
	return stmts
}

// Execute runs prompt on a new session. Failures never escape: they are
// reported in the summary and no CSV is produced.
func (e *Executor) Execute(ctx context.Context, prompt string) Answer {
	start := time.Now()
	res, err := e.run(ctx, prompt)
	e.metrics.Query(ctx, start, err != nil)

	if err != nil {
		e.log.Warn("query failed", slog.String("error", err.Error()))
		return Answer{Summary: fmt.Sprintf("*Error:* `%v`", err)}
	}
	if len(res.Rows) == 0 {
		return Answer{Summary: NoResults}
	}
	return Answer{
		Summary: fmt.Sprintf("Returned %d row(s), %d column(s)", len(res.Rows), len(res.Columns)),
		CSV:     FormatCSV(res),
	}
}

func (e *Executor) run(ctx context.Context, prompt string) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("%v", r)
		}
	}()

	s, err := e.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			e.log.Warn("closing session", slog.String("error", cerr.Error()))
		}
	}()

	for _, stmt := range e.SetupStatements() {
		if err := s.Exec(ctx, stmt); err != nil {
			return nil, err
		}
	}

	res, err = s.Query(ctx, ComposeCommand(prompt))
	if err != nil {
		return nil, err
	}
	if res == nil {
		return &Result{}, nil
	}
	if err := res.Validate(); err != nil {
		return nil, err
	}
	return res, nil
}
