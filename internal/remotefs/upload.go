package remotefs

import (
	"errors"
	"fmt"
	"path"
)

// ErrUnknownUpload reports a chunk or cancel for an id with no live stream.
// Uploads live inside the session-owned Service, so an id from another
// session can never resolve here.
var ErrUnknownUpload = errors.New("unknown upload id")

type upload struct {
	id           string
	remotePath   string
	totalSize    int64
	bytesWritten int64
	file         File
}

// StartResult reports the outcome of StartUpload. A zero-size upload
// completes at start since no chunk will ever arrive for it.
type StartResult struct {
	Completed bool
	Entry     *Entry
}

// ChunkResult reports one applied chunk.
type ChunkResult struct {
	BytesWritten int64
	TotalSize    int64
	// RemotePath is the upload target, echoed on completion replies.
	RemotePath string
	Completed  bool
	Entry      *Entry
}

// StartUpload verifies the target is writable, opens the write stream and
// registers the upload. When relativePath is set the client is uploading a
// folder, so missing parent directories of remotePath are created first.
func (s *Service) StartUpload(id, remotePath string, size int64, relativePath string) (StartResult, error) {
	if id == "" {
		return StartResult{}, errors.New("sftp: upload: empty upload id")
	}
	if size < 0 {
		return StartResult{}, fmt.Errorf("sftp: upload %s: negative size %d", id, size)
	}
	remotePath = normalizePath(remotePath)

	s.mu.Lock()
	_, exists := s.uploads[id]
	s.mu.Unlock()
	if exists {
		return StartResult{}, fmt.Errorf("sftp: upload %s: already active", id)
	}

	if relativePath != "" {
		if err := s.EnsureDir(path.Dir(remotePath)); err != nil {
			return StartResult{}, err
		}
	}

	// Fail before the client starts streaming chunks, not after.
	probe, err := s.fs.Create(remotePath)
	if err != nil {
		return StartResult{}, fmt.Errorf("sftp: upload %s: %q is not writable: %w", id, remotePath, err)
	}
	if err := probe.Close(); err != nil {
		return StartResult{}, fmt.Errorf("sftp: upload %s: %q is not writable: %w", id, remotePath, err)
	}

	f, err := s.fs.Create(remotePath)
	if err != nil {
		return StartResult{}, fmt.Errorf("sftp: upload %s: open %q: %w", id, remotePath, err)
	}
	if size == 0 {
		entry := s.refresh(remotePath)
		_ = f.Close()
		return StartResult{Completed: true, Entry: entry}, nil
	}

	s.mu.Lock()
	s.uploads[id] = &upload{id: id, remotePath: remotePath, totalSize: size, file: f}
	s.mu.Unlock()
	return StartResult{}, nil
}

// WriteChunk appends decoded chunk bytes to the upload stream. Writes are
// synchronous RPCs, so chunk processing is naturally paced by the server.
// Any error cancels the upload internally; the caller only reports it.
//
// Completion stats the finished file before closing the stream so the entry
// reflects what the chunks produced.
func (s *Service) WriteChunk(id string, data []byte) (ChunkResult, error) {
	s.mu.Lock()
	up, ok := s.uploads[id]
	s.mu.Unlock()
	if !ok {
		return ChunkResult{}, fmt.Errorf("sftp: upload %s: %w", id, ErrUnknownUpload)
	}
	if _, err := up.file.Write(data); err != nil {
		s.dropUpload(id)
		return ChunkResult{}, fmt.Errorf("sftp: upload %s: write: %w", id, err)
	}
	up.bytesWritten += int64(len(data))
	if up.bytesWritten > up.totalSize {
		s.dropUpload(id)
		return ChunkResult{}, fmt.Errorf("sftp: upload %s: received %d bytes for a declared size of %d",
			id, up.bytesWritten, up.totalSize)
	}
	res := ChunkResult{BytesWritten: up.bytesWritten, TotalSize: up.totalSize, RemotePath: up.remotePath}
	if up.bytesWritten == up.totalSize {
		res.Completed = true
		res.Entry = s.refresh(up.remotePath)
		s.dropUpload(id)
	}
	return res, nil
}

// CancelUpload ends the stream and drops state. The partial file stays put.
func (s *Service) CancelUpload(id string) error {
	s.mu.Lock()
	_, ok := s.uploads[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("sftp: upload %s: %w", id, ErrUnknownUpload)
	}
	s.dropUpload(id)
	return nil
}

// AbortUploads force-closes every live upload stream. Session teardown calls
// this after the transport is gone, so close errors are ignored.
func (s *Service) AbortUploads() {
	s.mu.Lock()
	dropped := make([]*upload, 0, len(s.uploads))
	for _, up := range s.uploads {
		dropped = append(dropped, up)
	}
	s.uploads = make(map[string]*upload)
	s.mu.Unlock()
	for _, up := range dropped {
		if up.file != nil {
			_ = up.file.Close()
		}
	}
}

// ActiveUploads reports how many upload streams are live.
func (s *Service) ActiveUploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.uploads)
}

func (s *Service) dropUpload(id string) {
	s.mu.Lock()
	up, ok := s.uploads[id]
	delete(s.uploads, id)
	s.mu.Unlock()
	if ok && up.file != nil {
		_ = up.file.Close()
	}
}
