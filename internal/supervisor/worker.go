package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/moduhost/workerd/internal/logging"
)

// Worker wraps one PHP worker subprocess. The worker gets SIGTERM on
// shutdown and a SIGKILL if it overstays the graceful timeout.
type Worker struct {
	id      string
	command string
	logger  logging.Logger

	mu  sync.Mutex
	cmd *exec.Cmd
	pid int

	ctx    context.Context
	cancel context.CancelFunc

	gracefulTimeout time.Duration
	killTimeout     time.Duration
}

// NewWorker creates a worker for the given command line.
func NewWorker(id, command string, logger logging.Logger) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		id:              id,
		command:         command,
		logger:          logger,
		ctx:             ctx,
		cancel:          cancel,
		gracefulTimeout: 10 * time.Second,
		killTimeout:     5 * time.Second,
	}
}

// Command returns the worker's command line.
func (w *Worker) Command() string { return w.command }

// PID returns the subprocess pid, 0 before start.
func (w *Worker) PID() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pid
}

// Shutdown triggers a graceful stop. Safe to call at any point.
func (w *Worker) Shutdown() {
	w.cancel()
}

// Run starts the subprocess and blocks until it exits or Shutdown is called.
// Returns the subprocess exit code; 137 means it had to be killed.
func (w *Worker) Run() int {
	args, err := SplitCommand(w.command)
	if err != nil {
		w.logger.Error("Failed to parse worker command", "id", w.id, "error", err)
		return 1
	}
	if len(args) == 0 {
		w.logger.Error("Empty worker command", "id", w.id)
		return 1
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		w.logger.Error("Failed to create stdout pipe", "id", w.id, "error", err)
		return 1
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		w.logger.Error("Failed to create stderr pipe", "id", w.id, "error", err)
		return 1
	}

	if err := cmd.Start(); err != nil {
		w.logger.Error("Failed to start worker", "id", w.id, "error", err, "command", w.command)
		return 1
	}

	w.mu.Lock()
	w.cmd = cmd
	w.pid = cmd.Process.Pid
	w.mu.Unlock()

	w.logger.Info("Worker started", "id", w.id, "pid", cmd.Process.Pid)

	outputDone := make(chan struct{}, 2)
	go func() {
		w.streamOutput(stdout, "stdout")
		outputDone <- struct{}{}
	}()
	go func() {
		w.streamOutput(stderr, "stderr")
		outputDone <- struct{}{}
	}()
	defer func() {
		<-outputDone
		<-outputDone
	}()

	processDone := make(chan error, 1)
	go func() {
		processDone <- cmd.Wait()
	}()

	select {
	case <-w.ctx.Done():
		w.logger.Info("Stopping worker", "id", w.id, "pid", cmd.Process.Pid)
		w.sendTerm()
		return w.waitForExit(processDone)
	case processErr := <-processDone:
		exitCode := exitCodeFromError(processErr)
		w.logger.Info("Worker exited", "id", w.id, "exit_code", exitCode)
		return exitCode
	}
}

// sendTerm sends SIGTERM without waiting.
func (w *Worker) sendTerm() {
	w.mu.Lock()
	cmd := w.cmd
	w.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		w.logger.Warn("Failed to send SIGTERM", "id", w.id, "error", err)
	}
}

// waitForExit waits for the subprocess with the graceful timeout,
// force-killing if needed.
func (w *Worker) waitForExit(processDone <-chan error) int {
	select {
	case err := <-processDone:
		return exitCodeFromError(err)
	case <-time.After(w.gracefulTimeout):
		w.logger.Warn("Graceful shutdown timeout, killing worker", "id", w.id, "timeout", w.gracefulTimeout)
		w.mu.Lock()
		cmd := w.cmd
		w.mu.Unlock()
		if cmd != nil && cmd.Process != nil {
			if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				w.logger.Error("Failed to kill worker", "id", w.id, "error", err)
			}
		}
		select {
		case <-processDone:
		case <-time.After(w.killTimeout):
			w.logger.Error("Worker did not exit after kill", "id", w.id)
		}
		return 137
	}
}

// streamOutput forwards subprocess output to the logger, mapping PHP error
// prefixes to levels.
func (w *Worker) streamOutput(reader io.Reader, source string) {
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		line := scanner.Text()
		switch phpLogLevel(line) {
		case "error":
			w.logger.Error(line, "worker", w.id)
		case "warn":
			w.logger.Warn(line, "worker", w.id)
		case "debug":
			w.logger.Debug(line, "worker", w.id)
		default:
			w.logger.Info(line, "worker", w.id)
		}
	}
	if err := scanner.Err(); err != nil {
		w.logger.Warn("Error reading worker output", "id", w.id, "source", source, "error", err)
	}
}

// phpLogLevel classifies a PHP worker output line by its error prefix.
func phpLogLevel(line string) string {
	switch {
	case strings.Contains(line, "PHP Fatal error") || strings.Contains(line, "PHP Parse error"):
		return "error"
	case strings.Contains(line, "PHP Warning"):
		return "warn"
	case strings.Contains(line, "PHP Notice") || strings.Contains(line, "PHP Deprecated"):
		return "debug"
	default:
		return "info"
	}
}

// exitCodeFromError extracts the exit code from a Wait error. Returns 0 for
// nil, the real code for ExitError, 1 otherwise.
func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}

// SplitCommand parses a command string into arguments, handling quoted
// strings and backslash escapes.
func SplitCommand(command string) ([]string, error) {
	var args []string
	var current strings.Builder
	inQuote := false
	quoteChar := rune(0)

	runes := []rune(strings.TrimSpace(command))
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '"' || r == '\'':
			switch {
			case !inQuote:
				inQuote = true
				quoteChar = r
			case r == quoteChar:
				inQuote = false
				quoteChar = 0
			default:
				current.WriteRune(r)
			}
		case r == ' ' && !inQuote:
			if current.Len() > 0 {
				args = append(args, current.String())
				current.Reset()
			}
		case r == '\\' && i+1 < len(runes):
			i++
			current.WriteRune(runes[i])
		default:
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		args = append(args, current.String())
	}
	if inQuote {
		return nil, fmt.Errorf("unclosed quote in command")
	}
	return args, nil
}
