package dep

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"

	"github.com/skapfer/rubber/internal/texlog"
)

// Commander abstracts a runnable external command so tests can substitute
// a fake.
type Commander interface {
	Run() error
}

// Shell is a recipe that generates files by running an external command.
type Shell struct {
	command []string
	env     []string
	stdout  io.Writer
	logger  *slog.Logger
	lastErr []texlog.Diagnostic

	execCommand func(name string, args ...string) Commander
}

// NewShell creates a recipe running the given command with the process
// environment.
func NewShell(logger *slog.Logger, command ...string) *Shell {
	return &Shell{
		command: command,
		logger:  logger.With("pkg", "dep"),
		execCommand: func(name string, args ...string) Commander {
			return exec.Command(name, args...)
		},
	}
}

// Setenv appends a variable to the command's environment.
func (s *Shell) Setenv(key, value string) {
	if s.env == nil {
		s.env = os.Environ()
	}

	s.env = append(s.env, key+"="+value)
}

// Run executes the command, blocking until it exits.
func (s *Shell) Run() error {
	s.logger.Info("running", "command", s.command)

	c := s.execCommand(s.command[0], s.command[1:]...)
	if cmd, ok := c.(*exec.Cmd); ok {
		cmd.Env = s.env
		cmd.Stdout = s.stdout
		cmd.Stderr = os.Stderr
	}

	if err := c.Run(); err != nil {
		s.lastErr = []texlog.Diagnostic{{
			Kind: texlog.KindError,
			Text: fmt.Sprintf("execution of %s failed", s.command[0]),
		}}

		return fmt.Errorf("execution of %s failed: %w", s.command[0], err)
	}

	s.lastErr = nil

	return nil
}

// Clean is a no-op; a shell recipe has no byproducts beyond its declared
// products.
func (s *Shell) Clean() {}

// Errors reports why the last Run failed.
func (s *Shell) Errors() []texlog.Diagnostic {
	return s.lastErr
}

// Pipe is a Shell whose product receives the standard output of the
// command.
type Pipe struct {
	Shell
	product string
}

// NewPipe creates a recipe capturing the command's stdout into product.
func NewPipe(logger *slog.Logger, product string, command ...string) *Pipe {
	p := &Pipe{product: product}
	p.Shell = *NewShell(logger, command...)

	return p
}

// Run executes the command with stdout redirected to the product file.
func (p *Pipe) Run() error {
	f, err := os.Create(p.product)
	if err != nil {
		return fmt.Errorf("create %s: %w", p.product, err)
	}
	defer f.Close()

	p.stdout = f

	return p.Shell.Run()
}
