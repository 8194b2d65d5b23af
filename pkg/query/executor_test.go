package query

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walkure/duckdb-acp-slack/pkg/config"
)

type fakeSession struct {
	mu      sync.Mutex
	execs   []string
	queries []string
	closed  bool

	execErr  map[string]error
	result   *Result
	queryErr error
	panicked bool
}

func (f *fakeSession) Exec(_ context.Context, stmt string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, stmt)
	return f.execErr[stmt]
}

func (f *fakeSession) Query(_ context.Context, stmt string) (*Result, error) {
	f.mu.Lock()
	f.queries = append(f.queries, stmt)
	f.mu.Unlock()
	if f.panicked {
		panic("driver exploded")
	}
	return f.result, f.queryErr
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// dialer hands out a fresh copy of tmpl for every call and remembers them.
type dialer struct {
	tmpl     fakeSession
	dialErr  error
	sessions []*fakeSession
}

func (d *dialer) dial(context.Context) (Session, error) {
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	s := &fakeSession{
		execErr:  d.tmpl.execErr,
		result:   d.tmpl.result,
		queryErr: d.tmpl.queryErr,
		panicked: d.tmpl.panicked,
	}
	d.sessions = append(d.sessions, s)
	return s, nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestComposeCommand(t *testing.T) {
	assert.Equal(t, "CLAUDE show me sales;", ComposeCommand("show me sales"))
	assert.Equal(t, "CLAUDE it's 'quoted'; DROP x;", ComposeCommand("it's 'quoted'; DROP x"),
		"prompt is passed through untouched")
}

func TestSetupStatements(t *testing.T) {
	e := New(Settings{
		Databases: []config.Database{
			{Name: "sales", Path: "/data/sales.duckdb"},
			{Name: "crm", Path: "/data/o'brien.duckdb"},
		},
		InitSQL: "SET threads = 2;",
	}, nil, discard())

	assert.Equal(t, []string{
		"INSTALL acp FROM community;",
		"LOAD acp;",
		`ATTACH '/data/sales.duckdb' AS "sales" (READ_ONLY);`,
		`ATTACH '/data/o''brien.duckdb' AS "crm" (READ_ONLY);`,
		"SET threads = 2;",
	}, e.SetupStatements())

	bare := New(Settings{InitSQL: "  \n"}, nil, discard())
	assert.Equal(t, []string{"INSTALL acp FROM community;", "LOAD acp;"}, bare.SetupStatements())
}

func TestNewCopiesSettings(t *testing.T) {
	dbs := []config.Database{{Name: "a", Path: "/a.duckdb"}}
	e := New(Settings{Databases: dbs}, nil, discard())
	dbs[0].Name = "changed"
	assert.Contains(t, e.SetupStatements()[2], `AS "a"`)
}

func TestExecuteRows(t *testing.T) {
	d := &dialer{tmpl: fakeSession{result: &Result{
		Columns: []string{"a", "b"},
		Rows:    [][]any{{1, "x"}, {2, nil}},
	}}}
	e := New(Settings{}, d.dial, discard())

	ans := e.Execute(context.Background(), "show me sales")
	assert.Equal(t, "Returned 2 row(s), 2 column(s)", ans.Summary)
	assert.True(t, ans.HasCSV())
	assert.Equal(t, "a,b\n1,x\n2,", ans.CSV)

	require.Len(t, d.sessions, 1)
	s := d.sessions[0]
	assert.Equal(t, []string{"CLAUDE show me sales;"}, s.queries)
	assert.Equal(t, []string{"INSTALL acp FROM community;", "LOAD acp;"}, s.execs)
	assert.True(t, s.closed)
}

func TestExecuteNoRows(t *testing.T) {
	for name, res := range map[string]*Result{
		"columns only": {Columns: []string{"a"}},
		"nil result":   nil,
	} {
		t.Run(name, func(t *testing.T) {
			d := &dialer{tmpl: fakeSession{result: res}}
			ans := New(Settings{}, d.dial, discard()).Execute(context.Background(), "anything")
			assert.Equal(t, NoResults, ans.Summary)
			assert.False(t, ans.HasCSV())
			assert.True(t, d.sessions[0].closed)
		})
	}
}

func TestExecuteFailures(t *testing.T) {
	tests := []struct {
		name        string
		d           *dialer
		wantSummary string
		wantClosed  bool
	}{
		{
			name:        "dial",
			d:           &dialer{dialErr: errors.New("out of memory")},
			wantSummary: "*Error:* `out of memory`",
		},
		{
			name: "extension load",
			d: &dialer{tmpl: fakeSession{execErr: map[string]error{
				"LOAD acp;": errors.New("extension not found"),
			}}},
			wantSummary: "*Error:* `extension not found`",
			wantClosed:  true,
		},
		{
			name:        "query",
			d:           &dialer{tmpl: fakeSession{queryErr: errors.New("agent timed out")}},
			wantSummary: "*Error:* `agent timed out`",
			wantClosed:  true,
		},
		{
			name: "ragged rows",
			d: &dialer{tmpl: fakeSession{result: &Result{
				Columns: []string{"a", "b"},
				Rows:    [][]any{{1}},
			}}},
			wantSummary: "*Error:* `row width does not match column count: row 0 has 1 values, want 2`",
			wantClosed:  true,
		},
		{
			name:        "panic",
			d:           &dialer{tmpl: fakeSession{panicked: true}},
			wantSummary: "*Error:* `driver exploded`",
			wantClosed:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ans := New(Settings{}, tt.d.dial, discard()).Execute(context.Background(), "q")
			assert.Equal(t, tt.wantSummary, ans.Summary)
			assert.False(t, ans.HasCSV())
			if tt.wantClosed {
				require.Len(t, tt.d.sessions, 1)
				assert.True(t, tt.d.sessions[0].closed)
			}
		})
	}
}

func TestExecuteFreshSessionPerCall(t *testing.T) {
	d := &dialer{tmpl: fakeSession{result: &Result{
		Columns: []string{"n"},
		Rows:    [][]any{{1}},
	}}}
	e := New(Settings{}, d.dial, discard())

	first := e.Execute(context.Background(), "count things")
	second := e.Execute(context.Background(), "count things")

	assert.Equal(t, first, second)
	require.Len(t, d.sessions, 2)
	assert.NotSame(t, d.sessions[0], d.sessions[1])
	for _, s := range d.sessions {
		assert.True(t, s.closed)
		assert.Equal(t, 2, len(s.execs))
	}
}

func TestExecuteErrorKeepsText(t *testing.T) {
	d := &dialer{tmpl: fakeSession{queryErr: errors.New("Binder Error: table `x` not found")}}
	ans := New(Settings{}, d.dial, discard()).Execute(context.Background(), "q")
	assert.True(t, strings.HasPrefix(ans.Summary, "*Error:* "))
	assert.Contains(t, ans.Summary, "table `x` not found")
}
