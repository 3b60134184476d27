// Package remotefs is the per-session file service riding the SFTP
// subchannel of an SSH transport.
//
// It converts native attributes to the wire entry shape, transcodes text
// reads to UTF-8, implements recursive copy/move with stop-on-first-error
// semantics, and runs the chunked upload engine. Recursive deletes shell out
// through the session's command runner because SFTP has no recursive remove.
package remotefs

import (
	"io"
	"os"

	"github.com/pkg/sftp"
	cryptossh "golang.org/x/crypto/ssh"
)

// File is one open remote file stream.
type File interface {
	io.Reader
	io.Writer
	io.Closer
}

// FS is the narrow SFTP surface the service consumes. It exists so tests can
// drive the service over an in-process SFTP server (or a fake) instead of a
// live host.
type FS interface {
	ReadDir(path string) ([]os.FileInfo, error)
	Lstat(path string) (os.FileInfo, error)
	RealPath(path string) (string, error)
	Mkdir(path string) error
	MkdirAll(path string) error
	Remove(path string) error
	Rename(oldPath, newPath string) error
	Chmod(path string, mode os.FileMode) error
	Open(path string) (File, error)
	Create(path string) (File, error)
	Close() error
}

// NewFS opens the SFTP subsystem on an established transport.
func NewFS(transport *cryptossh.Client) (FS, error) {
	client, err := sftp.NewClient(transport)
	if err != nil {
		return nil, err
	}
	return &sftpFS{client: client}, nil
}

// WrapFS adapts an already-open SFTP client.
func WrapFS(client *sftp.Client) FS {
	return &sftpFS{client: client}
}

// sftpFS delegates to github.com/pkg/sftp. The wrapper narrows *sftp.File
// return values to the File interface.
type sftpFS struct {
	client *sftp.Client
}

func (f *sftpFS) ReadDir(path string) ([]os.FileInfo, error) { return f.client.ReadDir(path) }
func (f *sftpFS) Lstat(path string) (os.FileInfo, error)     { return f.client.Lstat(path) }
func (f *sftpFS) RealPath(path string) (string, error)       { return f.client.RealPath(path) }
func (f *sftpFS) Mkdir(path string) error                    { return f.client.Mkdir(path) }
func (f *sftpFS) MkdirAll(path string) error                 { return f.client.MkdirAll(path) }
func (f *sftpFS) Remove(path string) error                   { return f.client.Remove(path) }
func (f *sftpFS) Rename(o, n string) error                   { return f.client.Rename(o, n) }
func (f *sftpFS) Chmod(path string, mode os.FileMode) error  { return f.client.Chmod(path, mode) }
func (f *sftpFS) Open(path string) (File, error)             { return f.client.Open(path) }
func (f *sftpFS) Create(path string) (File, error)           { return f.client.Create(path) }
func (f *sftpFS) Close() error                               { return f.client.Close() }
