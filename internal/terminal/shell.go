package terminal

import (
	"fmt"
	"io"
	"sync"

	cryptossh "golang.org/x/crypto/ssh"
)

// Default PTY geometry for new shells.
const (
	defaultCols = 80
	defaultRows = 24
)

// sshShell wraps an SSH session with a remote PTY.
type sshShell struct {
	session *cryptossh.Session
	stdin   io.WriteCloser
	output  *io.PipeReader
	mu      sync.Mutex
}

// NewSSHShell opens an interactive shell with a PTY (xterm-256color, 80×24)
// on an established transport. The transport itself stays open when the
// returned shell is closed; it belongs to the session that dialed it.
//
// Remote stdout and stderr are interleaved into one stream: once the remote
// shell exits and output is drained, Read reports EOF (or the exit error).
func NewSSHShell(client *cryptossh.Client, shellOverride string) (Shell, error) {
	sess, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("ssh: new session: %w", err)
	}

	modes := cryptossh.TerminalModes{
		cryptossh.ECHO:          1,
		cryptossh.TTY_OP_ISPEED: 14400,
		cryptossh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty("xterm-256color", defaultRows, defaultCols, modes); err != nil {
		sess.Close()
		return nil, fmt.Errorf("ssh: request pty: %w", err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("ssh: stdin pipe: %w", err)
	}

	pr, pw := io.Pipe()
	sess.Stdout = pw
	sess.Stderr = pw

	// sess.Shell() asks the server for the user's login shell; starting a
	// literal "$SHELL" would send the unexpanded string to the remote exec.
	if shellOverride != "" {
		if err := sess.Start(shellOverride); err != nil {
			if err2 := sess.Shell(); err2 != nil {
				sess.Close()
				return nil, fmt.Errorf("ssh: start shell %q (fallback also failed: %v): %w", shellOverride, err2, err)
			}
		}
	} else {
		if err := sess.Shell(); err != nil {
			sess.Close()
			return nil, fmt.Errorf("ssh: start login shell: %w", err)
		}
	}

	// Wait returns after the remote shell exits and output is flushed;
	// closing the pipe turns that into EOF for the gateway's reader loop.
	go func() {
		err := sess.Wait()
		_ = pw.CloseWithError(err)
	}()

	return &sshShell{
		session: sess,
		stdin:   stdin,
		output:  pr,
	}, nil
}

func (s *sshShell) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stdin.Write(p)
}

func (s *sshShell) Read(p []byte) (int, error) {
	return s.output.Read(p)
}

func (s *sshShell) Resize(rows, cols uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.WindowChange(int(rows), int(cols))
}

func (s *sshShell) Close() error {
	_ = s.stdin.Close()
	err := s.session.Close()
	_ = s.output.Close()
	return err
}

var _ Shell = (*sshShell)(nil)
