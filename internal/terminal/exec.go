package terminal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"

	cryptossh "golang.org/x/crypto/ssh"
)

// SSHRunner executes one-shot commands over an established SSH transport.
// Each Run opens its own session, so concurrent calls are safe.
type SSHRunner struct {
	Client *cryptossh.Client
}

// Run executes command without a PTY and collects stdout and stderr
// separately. Non-zero exits resolve normally with the code in the result;
// only channel-level failures return an error.
func (r *SSHRunner) Run(ctx context.Context, command string) (ExecResult, error) {
	sess, err := r.Client.NewSession()
	if err != nil {
		return ExecResult{}, fmt.Errorf("ssh: new session: %w", err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- sess.Run(command) }()

	select {
	case <-ctx.Done():
		// Closing the session aborts the remote command.
		_ = sess.Close()
		return ExecResult{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: -1}, ctx.Err()
	case err := <-done:
		result := ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
		if err == nil {
			return result, nil
		}
		var exitErr *cryptossh.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		var missing *cryptossh.ExitMissingError
		if errors.As(err, &missing) {
			result.ExitCode = -1
			return result, nil
		}
		return result, fmt.Errorf("ssh: run %q: %w", command, err)
	}
}

// LocalRunner executes one-shot commands on the gateway host through the
// system shell. It serves sessions opened against the host itself.
type LocalRunner struct {
	// Shell overrides the interpreter (default sh).
	Shell string
}

func (r *LocalRunner) Run(ctx context.Context, command string) (ExecResult, error) {
	shell := r.Shell
	if shell == "" {
		shell = "sh"
	}

	cmd := exec.CommandContext(ctx, shell, "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return result, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	return result, fmt.Errorf("local: run %q: %w", command, err)
}

var (
	_ Runner = (*SSHRunner)(nil)
	_ Runner = (*LocalRunner)(nil)
)
