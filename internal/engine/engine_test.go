package engine

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skapfer/rubber/internal/dep"
	"github.com/skapfer/rubber/internal/snapshot"
	"github.com/skapfer/rubber/internal/texlog"
)

type countingRecipe struct {
	runs    int
	product string
}

func (r *countingRecipe) Run() error {
	r.runs++
	return os.WriteFile(r.product, []byte("built"), 0o644)
}

func (r *countingRecipe) Clean() {}

func (r *countingRecipe) Errors() []texlog.Diagnostic { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func buildGraph(t *testing.T, tempDir string) (*dep.Graph, *dep.Node, *countingRecipe) {
	t.Helper()

	logger := testLogger()
	g := dep.NewGraph(snapshot.NewStore(logger), logger)

	recipe := &countingRecipe{product: filepath.Join(tempDir, "out.dvi")}
	n := g.NewNode(recipe)
	n.AddProduct(recipe.product)
	n.AddSource(filepath.Join(tempDir, "src.tex"))

	return g, n, recipe
}

func TestMakePersistsCacheAcrossEngines(t *testing.T) {
	tempDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "src.tex"), []byte("hello"), 0o644))

	opts := Options{CachePath: filepath.Join(tempDir, "cache")}

	g1, root1, recipe1 := buildGraph(t, tempDir)
	e1 := New(g1, opts, testLogger())

	out, err := e1.Make(root1)
	require.NoError(t, err)
	assert.Equal(t, dep.Changed, out)
	assert.Equal(t, 1, recipe1.runs)
	assert.FileExists(t, opts.CachePath)

	// a second engine over a fresh graph finds everything up to date
	g2, root2, recipe2 := buildGraph(t, tempDir)
	e2 := New(g2, opts, testLogger())

	out, err = e2.Make(root2)
	require.NoError(t, err)
	assert.Equal(t, dep.Unchanged, out)
	assert.Equal(t, 0, recipe2.runs)
}

func TestMakeForce(t *testing.T) {
	tempDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "src.tex"), []byte("hello"), 0o644))

	opts := Options{CachePath: filepath.Join(tempDir, "cache")}

	g1, root1, _ := buildGraph(t, tempDir)
	_, err := New(g1, opts, testLogger()).Make(root1)
	require.NoError(t, err)

	opts.Force = true

	g2, root2, recipe2 := buildGraph(t, tempDir)
	out, err := New(g2, opts, testLogger()).Make(root2)
	require.NoError(t, err)
	assert.Equal(t, dep.Changed, out)
	assert.Equal(t, 1, recipe2.runs)
}

func TestMakeWithoutCachePath(t *testing.T) {
	tempDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "src.tex"), []byte("hello"), 0o644))

	g, root, _ := buildGraph(t, tempDir)

	_, err := New(g, Options{}, testLogger()).Make(root)
	require.NoError(t, err)

	entries, err := os.ReadDir(tempDir)
	require.NoError(t, err)

	for _, e := range entries {
		assert.NotEqual(t, "cache", e.Name())
	}
}

func TestReportCapsDiagnostics(t *testing.T) {
	tempDir := t.TempDir()

	g, root, _ := buildGraph(t, tempDir)
	e := New(g, Options{MaxErrors: 2}, testLogger())

	err := &dep.BuildError{
		Node: root,
		Diagnostics: []texlog.Diagnostic{
			{Kind: texlog.KindError, Text: "first"},
			{Kind: texlog.KindError, Text: "second"},
			{Kind: texlog.KindError, Text: "third"},
		},
	}

	var buf bytes.Buffer
	assert.True(t, e.Report(&buf, err))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "first", lines[0])
	assert.Equal(t, "second", lines[1])
	assert.Equal(t, "More errors.", lines[2])
}

func TestReportRejectsPlainErrors(t *testing.T) {
	tempDir := t.TempDir()

	g, _, _ := buildGraph(t, tempDir)
	e := New(g, Options{}, testLogger())

	var buf bytes.Buffer
	assert.False(t, e.Report(&buf, os.ErrNotExist))
	assert.Empty(t, buf.String())
}
