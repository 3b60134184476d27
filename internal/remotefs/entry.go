package remotefs

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/sftp"
)

// Attrs is the wire attribute block. Timestamps are Unix milliseconds; mode
// is the raw POSIX mode word (type bits plus permissions).
type Attrs struct {
	Size           int64  `json:"size"`
	UID            int    `json:"uid"`
	GID            int    `json:"gid"`
	Mode           uint32 `json:"mode"`
	Atime          int64  `json:"atime"`
	Mtime          int64  `json:"mtime"`
	IsDirectory    bool   `json:"isDirectory"`
	IsFile         bool   `json:"isFile"`
	IsSymbolicLink bool   `json:"isSymbolicLink"`
}

// Entry is one directory entry as the browser sees it. Longname is
// synthesized in ls -l form since the v3 protocol stopped carrying one.
type Entry struct {
	Filename string `json:"filename"`
	Longname string `json:"longname"`
	Attrs    Attrs  `json:"attrs"`
}

// POSIX type bits for modes synthesized from os.FileMode when the server
// does not hand back a raw FileStat.
const (
	modeDir     = 0o040000
	modeSymlink = 0o120000
	modeRegular = 0o100000
)

func newEntry(name string, fi os.FileInfo) Entry {
	mode := fi.Mode()
	attrs := Attrs{
		Size:           fi.Size(),
		Atime:          fi.ModTime().UnixMilli(),
		Mtime:          fi.ModTime().UnixMilli(),
		IsDirectory:    fi.IsDir(),
		IsFile:         mode.IsRegular(),
		IsSymbolicLink: mode&os.ModeSymlink != 0,
	}
	if st, ok := fi.Sys().(*sftp.FileStat); ok {
		attrs.UID = int(st.UID)
		attrs.GID = int(st.GID)
		attrs.Mode = st.Mode
		if st.Atime > 0 {
			attrs.Atime = int64(st.Atime) * 1000
		}
		if st.Mtime > 0 {
			attrs.Mtime = int64(st.Mtime) * 1000
		}
	} else {
		attrs.Mode = synthesizeMode(mode)
	}
	return Entry{
		Filename: name,
		Longname: longname(name, attrs),
		Attrs:    attrs,
	}
}

func synthesizeMode(mode os.FileMode) uint32 {
	bits := uint32(mode.Perm())
	switch {
	case mode.IsDir():
		bits |= modeDir
	case mode&os.ModeSymlink != 0:
		bits |= modeSymlink
	default:
		bits |= modeRegular
	}
	return bits
}

// longname renders a minimal ls -l line. Link count is always 1 and owner and
// group show numeric ids; file browsers only parse the leading mode string.
func longname(name string, attrs Attrs) string {
	when := time.UnixMilli(attrs.Mtime).Format("Jan _2 15:04")
	return fmt.Sprintf("%s 1 %d %d %d %s %s",
		modeString(attrs.Mode), attrs.UID, attrs.GID, attrs.Size, when, name)
}

// modeString renders a POSIX mode word the way ls does. os.FileMode.String is
// close but prints symlinks as L, which trips longname parsers.
func modeString(mode uint32) string {
	var b [10]byte
	switch mode & 0o170000 {
	case modeDir:
		b[0] = 'd'
	case modeSymlink:
		b[0] = 'l'
	case 0o140000:
		b[0] = 's'
	case 0o060000:
		b[0] = 'b'
	case 0o020000:
		b[0] = 'c'
	case 0o010000:
		b[0] = 'p'
	default:
		b[0] = '-'
	}
	const rwx = "rwxrwxrwx"
	for i := 0; i < 9; i++ {
		if mode&(1<<uint(8-i)) != 0 {
			b[i+1] = rwx[i]
		} else {
			b[i+1] = '-'
		}
	}
	return string(b[:])
}
