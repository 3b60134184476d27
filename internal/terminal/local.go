package terminal

import (
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
)

// localShell is a PTY on the gateway host, used by connection profiles that
// target the host itself instead of a remote server.
type localShell struct {
	cmd  *exec.Cmd
	ptmx *os.File
	mu   sync.Mutex
}

// NewLocalShell starts shell (default bash) under a fresh PTY.
func NewLocalShell(shell string) (Shell, error) {
	if shell == "" {
		shell = "bash"
	}

	cmd := exec.Command(shell)
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("local: start pty: %w", err)
	}

	_ = pty.Setsize(ptmx, &pty.Winsize{Rows: defaultRows, Cols: defaultCols})

	return &localShell{cmd: cmd, ptmx: ptmx}, nil
}

func (s *localShell) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ptmx.Write(p)
}

func (s *localShell) Read(p []byte) (int, error) {
	return s.ptmx.Read(p)
}

func (s *localShell) Resize(rows, cols uint16) error {
	return pty.Setsize(s.ptmx, &pty.Winsize{Rows: rows, Cols: cols})
}

// Close kills the subprocess to avoid orphans, then releases the PTY.
func (s *localShell) Close() error {
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	err := s.ptmx.Close()
	_ = s.cmd.Wait()
	return err
}

var _ Shell = (*localShell)(nil)
