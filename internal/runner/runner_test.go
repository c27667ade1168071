package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tagquery/internal/config"
	"tagquery/internal/extract"
	"tagquery/internal/fragment"
	"tagquery/internal/output"
	"tagquery/internal/provenance"
	"tagquery/internal/query"
	"tagquery/internal/report"
	"tagquery/internal/store"
	"tagquery/internal/store/storetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nl(lines ...string) string {
	return strings.Join(lines, report.Newline) + report.Newline
}

func helloNorm(t *testing.T) string {
	t.Helper()
	norm := storetest.New(t)
	doc := norm.Source("Doc1", "Hello world", "")
	node := norm.Node("Greeting", "")
	norm.Tagging(doc, node, "6:10")
	norm.Tagging(doc, node, "0:4")
	return norm.Path()
}

func cfgFor(input string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Input = input
	return cfg
}

func TestRun_HelloWorld(t *testing.T) {
	cfg := cfgFor(helloNorm(t))
	cfg.NoComments = true

	var stdout bytes.Buffer
	sum, err := Run(context.Background(), cfg, &stdout, nil)
	require.NoError(t, err)

	assert.Equal(t, nl(
		`"Source","Node","Text","Fragment"`,
		`"Doc1","Greeting","Hello","0:4"`,
		`"Doc1","Greeting","world","6:10"`,
	), stdout.String())
	assert.Equal(t, 2, sum.Rows)
	assert.Equal(t, 2, sum.Taggings)
	assert.Equal(t, "<stdout>", sum.Output)
}

func TestRun_CommentsOnStdout(t *testing.T) {
	input := helloNorm(t)
	cfg := cfgFor(input)

	var stdout bytes.Buffer
	_, err := Run(context.Background(), cfg, &stdout, nil)
	require.NoError(t, err)

	lines := strings.Split(stdout.String(), report.Newline)
	assert.Equal(t, strings.Repeat("#", provenance.Width), lines[0])
	assert.Equal(t, "# tagquery", lines[1])
	assert.Equal(t, `#     --infile="`+input+`"`, lines[2])
	assert.Equal(t, `"Source","Node","Text","Fragment"`, lines[3])
	// The block appears exactly once.
	assert.Equal(t, 1, strings.Count(stdout.String(), "# tagquery"))
}

func TestRun_OutfileWithLog(t *testing.T) {
	dir := t.TempDir()
	cfg := cfgFor(helloNorm(t))
	cfg.Output = filepath.Join(dir, "greetings.csv")
	cfg.Filters.Node = "Greeting"

	var stdout bytes.Buffer
	sum, err := Run(context.Background(), cfg, &stdout, nil)
	require.NoError(t, err)
	assert.Empty(t, stdout.String())
	assert.Equal(t, cfg.Output, sum.Output)

	csv, err := os.ReadFile(cfg.Output)
	require.NoError(t, err)
	logData, err := os.ReadFile(filepath.Join(dir, "greetings.log"))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(string(csv), strings.ReplaceAll(string(logData), "\n", report.Newline)))
	assert.Contains(t, string(logData), " "+cfg.Output+" ")
	assert.Contains(t, string(logData), `#     --node="Greeting"`)
	assert.NotContains(t, string(logData), "--source=")
	assert.True(t, strings.HasSuffix(string(csv), nl(`"Doc1","Greeting","world","6:10"`)))
}

func TestRun_Idempotent(t *testing.T) {
	dir := t.TempDir()
	cfg := cfgFor(helloNorm(t))
	cfg.Output = filepath.Join(dir, "out.csv")

	_, err := Run(context.Background(), cfg, nil, nil)
	require.NoError(t, err)
	first, err := os.ReadFile(cfg.Output)
	require.NoError(t, err)

	_, err = Run(context.Background(), cfg, nil, nil)
	require.NoError(t, err)
	second, err := os.ReadFile(cfg.Output)
	require.NoError(t, err)

	assert.Equal(t, first, second)

	backup, err := os.ReadFile(cfg.Output + output.BackupSuffix)
	require.NoError(t, err)
	assert.Equal(t, first, backup)
	_, err = os.Stat(filepath.Join(dir, "out.log.bak"))
	assert.NoError(t, err)
}

func TestRun_OrdersBySourceThenOffset(t *testing.T) {
	norm := storetest.New(t)
	b := norm.Source("B", "bbbbbbbbbbbbbbbbbbbb", "")
	a := norm.Source("A", "aaaaaaaaaaaaaaaaaaaa", "")
	n1 := norm.Node("One", "")
	n2 := norm.Node("Two", "")
	norm.Tagging(b, n1, "10:11")
	norm.Tagging(a, n2, "7:8")
	norm.Tagging(b, n2, "0:1")
	norm.Tagging(a, n1, "15:19")
	norm.Tagging(a, n1, "0:0")
	norm.Tagging(b, n1, "3:3,1:2")

	cfg := cfgFor(norm.Path())
	cfg.NoComments = true
	var stdout bytes.Buffer
	_, err := Run(context.Background(), cfg, &stdout, nil)
	require.NoError(t, err)

	assert.Equal(t, nl(
		`"Source","Node","Text","Fragment"`,
		`"A","One","a","0:0"`,
		`"A","Two","aa","7:8"`,
		`"A","One","aaaaa","15:19"`,
		`"B","Two","bb","0:1"`,
		`"B","One","b","3:3,1:2"`,
		`"B","One","bb","10:11"`,
	), stdout.String())
}

func TestRun_MalformedFragmentProducesNoOutput(t *testing.T) {
	norm := storetest.New(t)
	doc := norm.Source("Doc1", "Hello world", "")
	node := norm.Node("Greeting", "")
	norm.Tagging(doc, node, "0:4")
	norm.Tagging(doc, node, "5-9")

	cfg := cfgFor(norm.Path())
	cfg.Output = filepath.Join(t.TempDir(), "out.csv")

	_, err := Run(context.Background(), cfg, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, fragment.ErrMalformed))
	assert.Equal(t, ExitMalformed, ExitCode(err))

	_, statErr := os.Stat(cfg.Output)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRun_SkipMalformed(t *testing.T) {
	norm := storetest.New(t)
	doc := norm.Source("Doc1", "Hello world", "")
	node := norm.Node("Greeting", "")
	norm.Tagging(doc, node, "0:4")
	norm.Tagging(doc, node, "abc")

	cfg := cfgFor(norm.Path())
	cfg.NoComments = true
	cfg.OnMalformed = string(extract.SkipMalformed)

	var stdout bytes.Buffer
	sum, err := Run(context.Background(), cfg, &stdout, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Rows)
	assert.Equal(t, 2, sum.Taggings)
}

func TestRun_OutOfRange(t *testing.T) {
	norm := storetest.New(t)
	doc := norm.Source("Doc1", "Hello", "")
	node := norm.Node("Greeting", "")
	norm.Tagging(doc, node, "3:40")

	cfg := cfgFor(norm.Path())
	cfg.NoComments = true
	_, err := Run(context.Background(), cfg, &bytes.Buffer{}, nil)
	assert.Equal(t, ExitOutOfRange, ExitCode(err))

	cfg.OnOutOfRange = string(extract.ClampOutOfRange)
	var stdout bytes.Buffer
	_, err = Run(context.Background(), cfg, &stdout, nil)
	require.NoError(t, err)
	assert.Contains(t, stdout.String(), `"Doc1","Greeting","lo","3:40"`)
}

func TestRun_MissingStore(t *testing.T) {
	dir := t.TempDir()
	cfg := cfgFor(filepath.Join(dir, "absent.norm"))
	cfg.Output = filepath.Join(dir, "out.csv")

	_, err := Run(context.Background(), cfg, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrStorage))
	assert.Equal(t, ExitStorage, ExitCode(err))

	_, statErr := os.Stat(cfg.Output)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRun_InvalidConfig(t *testing.T) {
	_, err := Run(context.Background(), config.DefaultConfig(), nil, nil)
	assert.Equal(t, ExitUsage, ExitCode(err))
}

func TestRun_LogWouldReplaceInput(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "study.log")
	original, err := os.ReadFile(helloNorm(t))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(input, original, 0644))

	cfg := cfgFor(input)
	cfg.Output = filepath.Join(dir, "study.csv")

	_, err = Run(context.Background(), cfg, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrInvalid))
	assert.Equal(t, ExitUsage, ExitCode(err))

	after, err := os.ReadFile(input)
	require.NoError(t, err)
	assert.Equal(t, original, after)
	for _, p := range []string{input + output.BackupSuffix, cfg.Output} {
		_, statErr := os.Stat(p)
		assert.True(t, os.IsNotExist(statErr), p)
	}
}

func TestRun_UnwritableOutput(t *testing.T) {
	cfg := cfgFor(helloNorm(t))
	cfg.NoComments = true
	cfg.Output = filepath.Join(t.TempDir(), "no", "such", "dir", "out.csv")

	_, err := Run(context.Background(), cfg, nil, nil)
	assert.Equal(t, ExitOutputSink, ExitCode(err))
}

func TestRun_Filters(t *testing.T) {
	norm := storetest.New(t)
	interviews := norm.SourceCategory("Interviews")
	themes := norm.NodeCategory("Themes")
	alice := norm.Source("Alice", "rivers and trees", interviews)
	memo := norm.Source("Memo", "rivers again", "")
	nature := norm.Node("Nature", themes)
	method := norm.Node("Method", "")
	norm.Tagging(alice, nature, "0:5")
	norm.Tagging(alice, method, "11:15")
	norm.Tagging(memo, nature, "0:5")

	tests := []struct {
		filters query.Filters
		want    []string
	}{
		{query.Filters{}, []string{`"Alice","Nature","rivers","0:5"`, `"Alice","Method","trees","11:15"`, `"Memo","Nature","rivers","0:5"`}},
		{query.Filters{SourceCategory: "Interviews"}, []string{`"Alice","Nature","rivers","0:5"`, `"Alice","Method","trees","11:15"`}},
		{query.Filters{NodeCategory: "Themes"}, []string{`"Alice","Nature","rivers","0:5"`, `"Memo","Nature","rivers","0:5"`}},
		{query.Filters{Source: "Memo", Node: "Method"}, nil},
		{query.Filters{Source: "Alice", NodeCategory: "Themes", SourceCategory: "Interviews", Node: "Nature"}, []string{`"Alice","Nature","rivers","0:5"`}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%+v", tt.filters), func(t *testing.T) {
			cfg := cfgFor(norm.Path())
			cfg.NoComments = true
			cfg.Filters = tt.filters

			var stdout bytes.Buffer
			_, err := Run(context.Background(), cfg, &stdout, nil)
			require.NoError(t, err)
			assert.Equal(t, nl(append([]string{`"Source","Node","Text","Fragment"`}, tt.want...)...), stdout.String())
		})
	}
}

func TestProvenanceArgs(t *testing.T) {
	cfg := cfgFor("in.norm")
	cfg.Filters.SourceCategory = "Interviews"
	cfg.Driver = store.DriverSQLite3
	cfg.OnOutOfRange = "clamp"

	var names []string
	for _, a := range ProvenanceArgs(cfg) {
		if a.Value != "" {
			names = append(names, a.Name+"="+a.Value)
		}
	}
	assert.Equal(t, []string{"infile=in.norm", "source-category=Interviews", "driver=sqlite3", "on-out-of-range=clamp"}, names)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitStorage, ExitCode(fmt.Errorf("wrap: %w", store.ErrStorage)))
	assert.Equal(t, ExitOutputSink, ExitCode(output.ErrSink))
	assert.Equal(t, 1, ExitCode(errors.New("other")))
}
