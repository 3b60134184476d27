// Package terminal provides the interactive PTY shells and one-shot command
// execution that back gateway sessions.
//
// Two shell flavours exist:
//   - SSH shells riding an established *ssh.Client transport (NewSSHShell)
//   - local PTYs on the gateway host itself (NewLocalShell)
//
// Both satisfy Shell, so the gateway relays bytes without caring which kind
// it holds. Runner is the matching seam for non-interactive commands; the
// status and docker pollers and the recursive-delete path all execute
// through it.
package terminal

import "context"

// Shell is an interactive PTY stream. Callers Write keyboard bytes and Read
// terminal output; control operations (resize, close) are out-of-band.
type Shell interface {
	// Write sends bytes to the shell's stdin.
	Write(p []byte) (n int, err error)
	// Read receives interleaved stdout/stderr bytes.
	Read(p []byte) (n int, err error)
	// Resize changes the PTY dimensions.
	Resize(rows, cols uint16) error
	// Close ends the shell and frees its resources. It does not close the
	// underlying transport.
	Close() error
}

// ExecResult carries the outcome of a one-shot command. A non-zero exit is
// not an error at this layer; callers interpret codes and stderr per use.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes one-shot, non-PTY commands on a session's host.
// Implementations must be safe for concurrent use; an error return means the
// command could not be run at all (transport or channel failure).
type Runner interface {
	Run(ctx context.Context, command string) (ExecResult, error)
}
