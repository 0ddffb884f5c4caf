// Package actuator implements the OS capability: shell commands and
// notifications.
package actuator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/nidhogg/skillgate/internal/capability"
	"go.uber.org/zap"
)

const (
	defaultTimeout = 30 * time.Second
	waitDelay      = 2 * time.Second
	maxStderr      = 2048
)

// Notifier delivers a user-facing notification.
type Notifier interface {
	Notify(ctx context.Context, title, body string)
}

// Options configures the shell actuator.
type Options struct {
	Shell   string
	Timeout time.Duration
	Dir     string
	Env     []string
	// NotifyCommand, if set, is also run on every notification with
	// {title} and {body} replaced by shell-quoted values.
	NotifyCommand string
}

// Shell runs commands through the system shell.
type Shell struct {
	opts     Options
	notifier Notifier
	logger   *zap.Logger
}

// NewShell creates a shell actuator. notifier may be nil.
func NewShell(opts Options, notifier Notifier, logger *zap.Logger) *Shell {
	if opts.Shell == "" {
		opts.Shell = defaultShell
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &Shell{opts: opts, notifier: notifier, logger: logger}
}

// RunCommand runs line and returns its stdout. A non-zero exit, a timeout,
// or a failure to start yields a *capability.CommandError.
func (s *Shell) RunCommand(ctx context.Context, line string) (string, error) {
	if strings.TrimSpace(line) == "" {
		return "", &capability.CommandError{Command: line, ExitCode: -1, Err: errors.New("empty command")}
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	cmd := shellCommand(ctx, s.opts.Shell, line)
	setProcessGroup(cmd)
	cmd.WaitDelay = waitDelay
	cmd.Dir = s.opts.Dir
	if len(s.opts.Env) > 0 {
		cmd.Env = append(cmd.Environ(), s.opts.Env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	s.logger.Debug("command finished",
		zap.String("command", line),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(err))
	if err == nil {
		return stdout.String(), nil
	}

	ce := &capability.CommandError{Command: line, ExitCode: -1, Stderr: truncate(stderr.String(), maxStderr)}
	var exitErr *exec.ExitError
	switch {
	case ctx.Err() != nil:
		ce.Err = fmt.Errorf("after %s: %w", s.opts.Timeout, ctx.Err())
	case errors.As(err, &exitErr):
		ce.ExitCode = exitErr.ExitCode()
	default:
		ce.Err = err
	}
	return stdout.String(), ce
}

// Notify forwards to the notifier and the notify command. It never fails.
func (s *Shell) Notify(ctx context.Context, title, body string) {
	if s.notifier != nil {
		s.notifier.Notify(ctx, title, body)
	}
	if s.opts.NotifyCommand == "" {
		return
	}
	line := strings.NewReplacer("{title}", shellQuote(title), "{body}", shellQuote(body)).Replace(s.opts.NotifyCommand)
	if _, err := s.RunCommand(ctx, line); err != nil {
		s.logger.Warn("notify command failed", zap.Error(err))
	}
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var _ capability.Actuator = (*Shell)(nil)
