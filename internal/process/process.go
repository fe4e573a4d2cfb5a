// Package process launches external tools (the archive extractor) and
// streams their output line by line.
//
// Every child is registered with a run-scoped Tracker. Children run in
// their own process group so that cancelling a run, or closing the
// tracker after an abnormal exit, kills the tool and anything it spawned.
package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
)

// Stream names the output a Line came from.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// Line is one line of child output.
type Line struct {
	Stream Stream
	Text   string
}

// lineBuffer bounds how far a child can run ahead of its reader.
const lineBuffer = 64

// Runner starts external programs.
type Runner interface {
	Start(ctx context.Context, name string, args ...string) (*Process, error)
}

// Process is a started child. Lines must be drained for the child to make
// progress; the channel closes when both streams reach EOF.
type Process struct {
	lines chan Line
	wait  func() (int, error)
	once  sync.Once
	code  int
	err   error
}

// Lines returns the child's output.
func (p *Process) Lines() <-chan Line {
	return p.lines
}

// Wait blocks until the child exits and returns its exit code. A non-zero
// exit is reported through the code, not the error; the error covers
// failures to run or a cancelled context.
func (p *Process) Wait() (int, error) {
	p.once.Do(func() {
		p.code, p.err = p.wait()
	})
	return p.code, p.err
}

// Finished returns a Process that has already exited with code after
// producing lines. Fake runners use it.
func Finished(lines []Line, code int) *Process {
	ch := make(chan Line, len(lines))
	for _, l := range lines {
		ch <- l
	}
	close(ch)
	return &Process{
		lines: ch,
		wait:  func() (int, error) { return code, nil },
	}
}

// Tracker is a Runner that remembers every live child until it exits.
type Tracker struct {
	logger *slog.Logger

	mu       sync.Mutex
	children map[*exec.Cmd]struct{}
	closed   bool
}

// NewTracker returns an empty Tracker. A nil logger discards output.
func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Tracker{
		logger:   logger,
		children: make(map[*exec.Cmd]struct{}),
	}
}

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("process tracker closed")

// Start launches name with args. The child is killed, with its whole
// process group, when ctx is cancelled.
func (t *Tracker) Start(ctx context.Context, name string, args ...string) (*Process, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	configureGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe for %s: %w", name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe for %s: %w", name, err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	if err := cmd.Start(); err != nil {
		t.mu.Unlock()
		return nil, fmt.Errorf("starting %s: %w", name, err)
	}
	t.children[cmd] = struct{}{}
	t.mu.Unlock()

	t.logger.Debug("started child process", "program", name, "pid", cmd.Process.Pid)

	lines := make(chan Line, lineBuffer)
	var readers sync.WaitGroup
	readers.Add(2)
	go scan(stdout, Stdout, lines, &readers)
	go scan(stderr, Stderr, lines, &readers)
	go func() {
		readers.Wait()
		close(lines)
	}()

	proc := &Process{lines: lines}
	proc.wait = func() (int, error) {
		readers.Wait()
		err := cmd.Wait()

		t.mu.Lock()
		delete(t.children, cmd)
		t.mu.Unlock()

		if ctx.Err() != nil {
			return -1, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		if err != nil {
			return -1, fmt.Errorf("waiting for %s: %w", name, err)
		}
		return 0, nil
	}
	return proc, nil
}

// Live returns the number of children that have not been waited for.
func (t *Tracker) Live() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.children)
}

// Close kills every tracked child and refuses further starts.
func (t *Tracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true

	var errs []error
	for cmd := range t.children {
		if err := killGroup(cmd); err != nil {
			errs = append(errs, fmt.Errorf("killing pid %d: %w", cmd.Process.Pid, err))
		}
	}
	if n := len(t.children); n > 0 {
		t.logger.Warn("killed child processes", "count", n)
	}
	return errors.Join(errs...)
}

func scan(r io.Reader, stream Stream, out chan<- Line, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		out <- Line{Stream: stream, Text: scanner.Text()}
	}
	// Drain so the child never blocks on a full pipe after a scan error.
	_, _ = io.Copy(io.Discard, r)
}
