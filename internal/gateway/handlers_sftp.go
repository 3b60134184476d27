package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"

	"github.com/portside-io/portside/backend/internal/events"
	"github.com/portside-io/portside/backend/internal/remotefs"
)

type pathPayload struct {
	Path string `json:"path"`
}

type writeFilePayload struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type renamePayload struct {
	OldPath string `json:"oldPath"`
	NewPath string `json:"newPath"`
}

type chmodPayload struct {
	Path string `json:"path"`
	Mode uint32 `json:"mode"`
}

type transferPayload struct {
	Sources     []string `json:"sources"`
	Destination string   `json:"destination"`
}

type uploadStartPayload struct {
	UploadID     string `json:"uploadId"`
	RemotePath   string `json:"remotePath"`
	Size         int64  `json:"size"`
	RelativePath string `json:"relativePath"`
}

type uploadChunkPayload struct {
	UploadID   string `json:"uploadId"`
	ChunkIndex int    `json:"chunkIndex"`
	Data       string `json:"data"`
}

type uploadCancelPayload struct {
	UploadID string `json:"uploadId"`
}

// sftpOp queues one file request on the session serializer and answers in
// the op's own vocabulary (<type>:success / <type>:error). A non-empty
// action additionally records the mutation on the event bus once it
// succeeded.
func (g *Gateway) sftpOp(c *Client, env *Envelope, action string, details map[string]any, fn func(s *Session, files *remotefs.Service) (any, error)) {
	s := c.Session()
	if s == nil {
		replyNoSession(c, env)
		return
	}
	typ, requestID := env.Type, env.RequestID
	s.enqueueSFTP(func() {
		files := s.filesService()
		if files == nil {
			c.Reply(typ+":error", requestID, "file access is not available for this session")
			return
		}
		payload, err := fn(s, files)
		if err != nil {
			c.Reply(typ+":error", requestID, err.Error())
			return
		}
		c.Reply(typ+":success", requestID, payload)
		if action != "" {
			g.emitSFTPAction(c, s, action, details)
		}
	})
}

func (g *Gateway) emitSFTPAction(c *Client, s *Session, action string, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	details["action"] = action
	details["connectionId"] = s.ConnectionID
	details["connectionName"] = s.ConnectionName
	g.emit(events.Event{
		Type:     events.SFTPAction,
		UserID:   c.UserID,
		Username: c.Username,
		IP:       c.IP,
		Details:  details,
	})
}

func (g *Gateway) handleReaddir(_ context.Context, c *Client, env *Envelope) {
	var p pathPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		c.Reply(env.Type+":error", env.RequestID, "readdir requires a path")
		return
	}
	g.sftpOp(c, env, "", nil, func(_ *Session, files *remotefs.Service) (any, error) {
		return files.ReadDir(p.Path)
	})
}

func (g *Gateway) handleStat(_ context.Context, c *Client, env *Envelope) {
	var p pathPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		c.Reply(env.Type+":error", env.RequestID, "stat requires a path")
		return
	}
	g.sftpOp(c, env, "", nil, func(_ *Session, files *remotefs.Service) (any, error) {
		return files.Stat(p.Path)
	})
}

func (g *Gateway) handleRealpath(_ context.Context, c *Client, env *Envelope) {
	var p pathPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		c.Reply(env.Type+":error", env.RequestID, "realpath requires a path")
		return
	}
	g.sftpOp(c, env, "", nil, func(_ *Session, files *remotefs.Service) (any, error) {
		resolved, err := files.RealPath(p.Path)
		if err != nil {
			return nil, err
		}
		return map[string]any{"path": resolved}, nil
	})
}

func (g *Gateway) handleReadFile(_ context.Context, c *Client, env *Envelope) {
	var p pathPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		c.Reply(env.Type+":error", env.RequestID, "readfile requires a path")
		return
	}
	g.sftpOp(c, env, "", nil, func(_ *Session, files *remotefs.Service) (any, error) {
		content, err := files.ReadFile(p.Path)
		if err != nil {
			return nil, err
		}
		return map[string]any{"content": content}, nil
	})
}

func (g *Gateway) handleWriteFile(_ context.Context, c *Client, env *Envelope) {
	var p writeFilePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		c.Reply(env.Type+":error", env.RequestID, "writefile requires a path and content")
		return
	}
	g.sftpOp(c, env, "writefile", map[string]any{"path": p.Path}, func(_ *Session, files *remotefs.Service) (any, error) {
		return files.WriteFile(p.Path, []byte(p.Content))
	})
}

func (g *Gateway) handleMkdir(_ context.Context, c *Client, env *Envelope) {
	var p pathPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		c.Reply(env.Type+":error", env.RequestID, "mkdir requires a path")
		return
	}
	g.sftpOp(c, env, "mkdir", map[string]any{"path": p.Path}, func(_ *Session, files *remotefs.Service) (any, error) {
		return files.Mkdir(p.Path)
	})
}

func (g *Gateway) handleRmdir(_ context.Context, c *Client, env *Envelope) {
	var p pathPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		c.Reply(env.Type+":error", env.RequestID, "rmdir requires a path")
		return
	}
	g.sftpOp(c, env, "rmdir", map[string]any{"path": p.Path}, func(s *Session, files *remotefs.Service) (any, error) {
		if err := files.RemoveAll(s.ctx, p.Path); err != nil {
			return nil, err
		}
		return nil, nil
	})
}

func (g *Gateway) handleUnlink(_ context.Context, c *Client, env *Envelope) {
	var p pathPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		c.Reply(env.Type+":error", env.RequestID, "unlink requires a path")
		return
	}
	g.sftpOp(c, env, "unlink", map[string]any{"path": p.Path}, func(_ *Session, files *remotefs.Service) (any, error) {
		if err := files.Unlink(p.Path); err != nil {
			return nil, err
		}
		return nil, nil
	})
}

func (g *Gateway) handleRename(_ context.Context, c *Client, env *Envelope) {
	var p renamePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		c.Reply(env.Type+":error", env.RequestID, "rename requires oldPath and newPath")
		return
	}
	g.sftpOp(c, env, "rename", map[string]any{"oldPath": p.OldPath, "newPath": p.NewPath}, func(_ *Session, files *remotefs.Service) (any, error) {
		return files.Rename(p.OldPath, p.NewPath)
	})
}

func (g *Gateway) handleChmod(_ context.Context, c *Client, env *Envelope) {
	var p chmodPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		c.Reply(env.Type+":error", env.RequestID, "chmod requires a path and a mode")
		return
	}
	g.sftpOp(c, env, "chmod", map[string]any{"path": p.Path, "mode": p.Mode}, func(_ *Session, files *remotefs.Service) (any, error) {
		return files.Chmod(p.Path, p.Mode)
	})
}

func (g *Gateway) handleCopy(_ context.Context, c *Client, env *Envelope) {
	var p transferPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || len(p.Sources) == 0 || p.Destination == "" {
		c.Reply(env.Type+":error", env.RequestID, "copy requires sources and a destination")
		return
	}
	g.sftpOp(c, env, "copy", map[string]any{"sources": p.Sources, "destination": p.Destination}, func(_ *Session, files *remotefs.Service) (any, error) {
		return files.Copy(p.Sources, p.Destination)
	})
}

func (g *Gateway) handleMove(_ context.Context, c *Client, env *Envelope) {
	var p transferPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || len(p.Sources) == 0 || p.Destination == "" {
		c.Reply(env.Type+":error", env.RequestID, "move requires sources and a destination")
		return
	}
	g.sftpOp(c, env, "move", map[string]any{"sources": p.Sources, "destination": p.Destination}, func(_ *Session, files *remotefs.Service) (any, error) {
		return files.Move(p.Sources, p.Destination)
	})
}

func (g *Gateway) handleUploadStart(_ context.Context, c *Client, env *Envelope) {
	var p uploadStartPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.UploadID == "" || p.RemotePath == "" {
		g.uploadError(c, env.RequestID, p.UploadID, "upload:start requires uploadId, remotePath and size")
		return
	}
	s := c.Session()
	if s == nil {
		replyNoSession(c, env)
		return
	}
	requestID := env.RequestID
	s.enqueueSFTP(func() {
		files := s.filesService()
		if files == nil {
			g.uploadError(c, requestID, p.UploadID, "file access is not available for this session")
			return
		}
		res, err := files.StartUpload(p.UploadID, p.RemotePath, p.Size, p.RelativePath)
		if err != nil {
			log.Printf("[gateway] session %s upload %s start: %v", s.ID, p.UploadID, err)
			g.uploadError(c, requestID, p.UploadID, err.Error())
			return
		}
		c.send(uploadOut{Type: "sftp:upload:ready", UploadID: p.UploadID, RequestID: requestID})
		// A zero-size upload is complete the moment its stream opened; no
		// chunk frame will ever arrive for it.
		if res.Completed {
			c.send(uploadSuccessOut{
				Type:      "sftp:upload:success",
				UploadID:  p.UploadID,
				RequestID: requestID,
				Path:      p.RemotePath,
				Payload:   res.Entry,
			})
			g.emitSFTPAction(c, s, "upload", map[string]any{"path": p.RemotePath, "size": p.Size})
		}
	})
}

func (g *Gateway) handleUploadChunk(_ context.Context, c *Client, env *Envelope) {
	var p uploadChunkPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.UploadID == "" {
		g.uploadError(c, env.RequestID, p.UploadID, "upload:chunk requires uploadId and data")
		return
	}
	data, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		g.uploadError(c, env.RequestID, p.UploadID, "chunk data is not valid base64")
		return
	}
	s := c.Session()
	if s == nil {
		replyNoSession(c, env)
		return
	}
	requestID := env.RequestID
	s.enqueueSFTP(func() {
		files := s.filesService()
		if files == nil {
			g.uploadError(c, requestID, p.UploadID, "file access is not available for this session")
			return
		}
		res, err := files.WriteChunk(p.UploadID, data)
		if err != nil {
			// Chunks racing a cancel are expected; drop them quietly.
			if errors.Is(err, remotefs.ErrUnknownUpload) {
				log.Printf("[gateway] session %s dropped chunk %d for unknown upload %s", s.ID, p.ChunkIndex, p.UploadID)
				return
			}
			log.Printf("[gateway] session %s upload %s chunk %d: %v", s.ID, p.UploadID, p.ChunkIndex, err)
			g.uploadError(c, requestID, p.UploadID, err.Error())
			return
		}
		if res.Completed {
			c.send(uploadSuccessOut{
				Type:      "sftp:upload:success",
				UploadID:  p.UploadID,
				RequestID: requestID,
				Path:      res.RemotePath,
				Payload:   res.Entry,
			})
			g.emitSFTPAction(c, s, "upload", map[string]any{"path": res.RemotePath, "size": res.TotalSize})
			return
		}
		c.send(uploadOut{
			Type:      "sftp:upload:progress",
			UploadID:  p.UploadID,
			RequestID: requestID,
			Payload: map[string]any{
				"bytesWritten": res.BytesWritten,
				"totalSize":    res.TotalSize,
			},
		})
	})
}

func (g *Gateway) handleUploadCancel(_ context.Context, c *Client, env *Envelope) {
	var p uploadCancelPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.UploadID == "" {
		g.uploadError(c, env.RequestID, p.UploadID, "upload:cancel requires an uploadId")
		return
	}
	s := c.Session()
	if s == nil {
		replyNoSession(c, env)
		return
	}
	requestID := env.RequestID
	s.enqueueSFTP(func() {
		files := s.filesService()
		if files == nil {
			g.uploadError(c, requestID, p.UploadID, "file access is not available for this session")
			return
		}
		// Cancelling an unknown id acks anyway; the client is told the
		// upload is gone either way.
		if err := files.CancelUpload(p.UploadID); err != nil && !errors.Is(err, remotefs.ErrUnknownUpload) {
			g.uploadError(c, requestID, p.UploadID, err.Error())
			return
		}
		c.send(uploadOut{Type: "sftp:upload:cancelled", UploadID: p.UploadID, RequestID: requestID})
	})
}

func (g *Gateway) uploadError(c *Client, requestID, uploadID, msg string) {
	c.send(uploadOut{
		Type:      "sftp:upload:error",
		UploadID:  uploadID,
		RequestID: requestID,
		Payload:   map[string]any{"message": msg},
	})
}
