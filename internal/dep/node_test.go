package dep

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skapfer/rubber/internal/snapshot"
	"github.com/skapfer/rubber/internal/texlog"
)

// fakeRecipe counts invocations and runs an optional callback so tests can
// simulate recipes that write products or rewrite their own sources.
type fakeRecipe struct {
	runs  int
	onRun func() error
	diags []texlog.Diagnostic
}

func (r *fakeRecipe) Run() error {
	r.runs++

	if r.onRun != nil {
		return r.onRun()
	}

	return nil
}

func (r *fakeRecipe) Clean() {}

func (r *fakeRecipe) Errors() []texlog.Diagnostic {
	return r.diags
}

func testGraph(t *testing.T) *Graph {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return NewGraph(snapshot.NewStore(logger), logger)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// touch moves the file's mtime strictly forward so the snapshot store
// notices the write even within the same timestamp granule.
func touch(t *testing.T, path string, at time.Time) {
	t.Helper()
	require.NoError(t, os.Chtimes(path, at, at))
}

func TestMakeBuildsOnceAndSettles(t *testing.T) {
	tempDir := t.TempDir()
	src := filepath.Join(tempDir, "src.tex")
	out := filepath.Join(tempDir, "out.dvi")
	writeFile(t, src, "hello")

	g := testGraph(t)

	recipe := &fakeRecipe{onRun: func() error {
		writeFile(t, out, "built")
		return nil
	}}

	n := g.NewNode(recipe)
	n.AddProduct(out)
	n.AddSource(src)

	outcome, err := n.Make(false)
	require.NoError(t, err)
	assert.Equal(t, Changed, outcome)
	assert.Equal(t, 1, recipe.runs)

	// nothing changed, so a second make must not run the recipe
	outcome, err = n.Make(false)
	require.NoError(t, err)
	assert.Equal(t, Unchanged, outcome)
	assert.Equal(t, 1, recipe.runs)
}

func TestMakeRebuildsOnSourceChange(t *testing.T) {
	tempDir := t.TempDir()
	src := filepath.Join(tempDir, "src.tex")
	out := filepath.Join(tempDir, "out.dvi")
	writeFile(t, src, "hello")

	g := testGraph(t)

	recipe := &fakeRecipe{onRun: func() error {
		writeFile(t, out, "built")
		return nil
	}}

	n := g.NewNode(recipe)
	n.AddProduct(out)
	n.AddSource(src)

	_, err := n.Make(false)
	require.NoError(t, err)
	require.Equal(t, 1, recipe.runs)

	writeFile(t, src, "edited")
	touch(t, src, time.Now().Add(2*time.Second))

	outcome, err := n.Make(false)
	require.NoError(t, err)
	assert.Equal(t, Changed, outcome)
	assert.Equal(t, 2, recipe.runs)
}

func TestMakeForceRunsRecipe(t *testing.T) {
	tempDir := t.TempDir()
	src := filepath.Join(tempDir, "src.tex")
	out := filepath.Join(tempDir, "out.dvi")
	writeFile(t, src, "hello")

	g := testGraph(t)

	recipe := &fakeRecipe{onRun: func() error {
		writeFile(t, out, "built")
		return nil
	}}

	n := g.NewNode(recipe)
	n.AddProduct(out)
	n.AddSource(src)

	_, err := n.Make(false)
	require.NoError(t, err)
	require.Equal(t, 1, recipe.runs)

	outcome, err := n.Make(true)
	require.NoError(t, err)
	assert.Equal(t, Changed, outcome)
	assert.Equal(t, 2, recipe.runs)
}

func TestMakeCyclicDependencyTerminates(t *testing.T) {
	tempDir := t.TempDir()
	a := filepath.Join(tempDir, "a.aux")
	b := filepath.Join(tempDir, "b.bbl")

	g := testGraph(t)

	recipeA := &fakeRecipe{onRun: func() error {
		writeFile(t, a, "contents of a")
		return nil
	}}
	recipeB := &fakeRecipe{onRun: func() error {
		writeFile(t, b, "contents of b")
		return nil
	}}

	// mutual dependency, as between a document and its bibliography
	nodeA := g.NewNode(recipeA)
	nodeA.AddProduct(a)
	nodeA.AddSource(b)

	nodeB := g.NewNode(recipeB)
	nodeB.AddProduct(b)
	nodeB.AddSource(a)

	outcome, err := nodeA.Make(false)
	require.NoError(t, err)
	assert.Equal(t, Changed, outcome)

	// the cycle is pruned, not chased forever
	assert.Equal(t, 1, recipeA.runs)
	assert.Equal(t, 2, recipeB.runs)
}

func TestMakeGivesUpWhenContentsNeverSettle(t *testing.T) {
	tempDir := t.TempDir()
	flip := filepath.Join(tempDir, "doc.aux")
	out := filepath.Join(tempDir, "doc.dvi")
	writeFile(t, flip, "seed")

	start := time.Now()
	touch(t, flip, start)

	g := testGraph(t)

	// the recipe rewrites its own source with different bytes on every
	// run, so the fingerprints can never converge
	var recipe *fakeRecipe
	recipe = &fakeRecipe{onRun: func() error {
		if recipe.runs%2 == 0 {
			writeFile(t, flip, "even")
		} else {
			writeFile(t, flip, "odd")
		}

		touch(t, flip, start.Add(time.Duration(recipe.runs)*time.Second))
		writeFile(t, out, "built")

		return nil
	}}

	n := g.NewNode(recipe)
	n.AddProduct(out)
	n.AddSource(flip)

	_, err := n.Make(false)
	require.Error(t, err)

	var buildErr *BuildError
	require.ErrorAs(t, err, &buildErr)
	require.Len(t, buildErr.Diagnostics, 1)
	assert.Contains(t, buildErr.Diagnostics[0].Text, "do not seem to settle")

	assert.Equal(t, 5, recipe.runs)
}

func TestMakeFailsOnMissingLeafSource(t *testing.T) {
	tempDir := t.TempDir()
	missing := filepath.Join(tempDir, "missing.tex")
	out := filepath.Join(tempDir, "out.dvi")

	g := testGraph(t)

	recipe := &fakeRecipe{}
	n := g.NewNode(recipe)
	n.AddProduct(out)
	n.AddSource(missing)

	_, err := n.Make(false)
	require.Error(t, err)

	var buildErr *BuildError
	require.ErrorAs(t, err, &buildErr)
	require.Len(t, buildErr.Diagnostics, 1)
	assert.Contains(t, buildErr.Diagnostics[0].Text, "does not exist")

	assert.Equal(t, 0, recipe.runs, "the recipe must not run without its sources")
	assert.Same(t, n, n.FailedDep())
}

func TestMakeDefersMissingSourceWhenAsked(t *testing.T) {
	tempDir := t.TempDir()
	missing := filepath.Join(tempDir, "doc.aux")
	out := filepath.Join(tempDir, "doc.dvi")

	g := testGraph(t)

	recipe := &fakeRecipe{onRun: func() error {
		writeFile(t, out, "built")
		return nil
	}}

	n := g.NewNode(recipe)
	n.DeferMissing = true
	n.AddProduct(out)
	n.AddSource(missing)

	outcome, err := n.Make(false)
	require.NoError(t, err)
	assert.Equal(t, Changed, outcome)
	assert.Equal(t, 1, recipe.runs)
}

func TestMakeReportsRecipeFailure(t *testing.T) {
	tempDir := t.TempDir()
	src := filepath.Join(tempDir, "src.tex")
	out := filepath.Join(tempDir, "out.dvi")
	writeFile(t, src, "hello")

	g := testGraph(t)

	diags := []texlog.Diagnostic{{Kind: texlog.KindError, Text: "Undefined control sequence \\foo."}}
	recipe := &fakeRecipe{
		onRun: func() error { return errors.New("compiler exited with status 1") },
		diags: diags,
	}

	n := g.NewNode(recipe)
	n.AddProduct(out)
	n.AddSource(src)

	_, err := n.Make(false)
	require.Error(t, err)

	var buildErr *BuildError
	require.ErrorAs(t, err, &buildErr)
	assert.Same(t, n, buildErr.Node)
	assert.Equal(t, diags, buildErr.Diagnostics)
	assert.Same(t, n, n.FailedDep())
}

func TestMakePropagatesDependencyFailure(t *testing.T) {
	tempDir := t.TempDir()
	src := filepath.Join(tempDir, "src.tex")
	mid := filepath.Join(tempDir, "mid.bbl")
	out := filepath.Join(tempDir, "out.dvi")
	writeFile(t, src, "hello")

	g := testGraph(t)

	failing := &fakeRecipe{onRun: func() error { return errors.New("boom") }}
	inner := g.NewNode(failing)
	inner.AddProduct(mid)
	inner.AddSource(src)

	top := &fakeRecipe{}
	outer := g.NewNode(top)
	outer.AddProduct(out)
	outer.AddSource(mid)

	_, err := outer.Make(false)
	require.Error(t, err)

	assert.Equal(t, 0, top.runs)
	assert.Same(t, inner, outer.FailedDep())
}

func TestCleanRemovesProducts(t *testing.T) {
	tempDir := t.TempDir()
	src := filepath.Join(tempDir, "src.tex")
	out := filepath.Join(tempDir, "out.dvi")
	writeFile(t, src, "hello")

	g := testGraph(t)

	recipe := &fakeRecipe{onRun: func() error {
		writeFile(t, out, "built")
		return nil
	}}

	n := g.NewNode(recipe)
	n.AddProduct(out)
	n.AddSource(src)

	_, err := n.Make(false)
	require.NoError(t, err)
	require.FileExists(t, out)

	n.Clean()
	assert.NoFileExists(t, out)
}

func TestLeafSources(t *testing.T) {
	tempDir := t.TempDir()
	src := filepath.Join(tempDir, "src.tex")
	bib := filepath.Join(tempDir, "refs.bib")
	mid := filepath.Join(tempDir, "mid.bbl")
	out := filepath.Join(tempDir, "out.dvi")

	g := testGraph(t)

	inner := g.NewNode(&fakeRecipe{})
	inner.AddProduct(mid)
	inner.AddSource(bib)

	outer := g.NewNode(&fakeRecipe{})
	outer.AddProduct(out)
	outer.AddSource(src)
	outer.AddSource(mid)
	outer.AddSource(bib)

	// produced files are not leaves, and shared leaves appear once
	assert.Equal(t, []string{bib, src}, g.LeafSources())
}
