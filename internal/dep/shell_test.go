package dep

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skapfer/rubber/internal/texlog"
)

type fakeCommander struct {
	err error
	ran *bool
}

func (c *fakeCommander) Run() error {
	if c.ran != nil {
		*c.ran = true
	}

	return c.err
}

func TestShellRunsCommand(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var (
		gotName string
		gotArgs []string
		ran     bool
	)

	s := NewShell(logger, "epstopdf", "figure.eps")
	s.execCommand = func(name string, args ...string) Commander {
		gotName = name
		gotArgs = args

		return &fakeCommander{ran: &ran}
	}

	require.NoError(t, s.Run())
	assert.True(t, ran)
	assert.Equal(t, "epstopdf", gotName)
	assert.Equal(t, []string{"figure.eps"}, gotArgs)
	assert.Empty(t, s.Errors())
}

func TestShellReportsFailure(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s := NewShell(logger, "epstopdf", "figure.eps")
	s.execCommand = func(name string, args ...string) Commander {
		return &fakeCommander{err: errors.New("exit status 1")}
	}

	err := s.Run()
	require.Error(t, err)

	diags := s.Errors()
	require.Len(t, diags, 1)
	assert.Equal(t, texlog.KindError, diags[0].Kind)
	assert.Contains(t, diags[0].Text, "epstopdf")
}

func TestPipeCapturesStdout(t *testing.T) {
	tempDir := t.TempDir()
	product := filepath.Join(tempDir, "out.txt")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	p := NewPipe(logger, product, "generator")
	p.execCommand = func(name string, args ...string) Commander {
		// stand in for the command writing to stdout
		_, err := p.stdout.Write([]byte("generated\n"))
		require.NoError(t, err)

		return &fakeCommander{}
	}

	require.NoError(t, p.Run())

	data, err := os.ReadFile(product)
	require.NoError(t, err)
	assert.Equal(t, "generated\n", string(data))
}
