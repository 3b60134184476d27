package remotefs

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/simplifiedchinese"
)

// maxReadFileBytes caps readfile buffers. The web editor is for text files,
// not blobs; 10 MiB covers config files with headroom.
const maxReadFileBytes = 10 << 20

// Charsets that decode safely as GB18030, its own strict superset.
var gbFamily = map[string]bool{
	"gbk":      true,
	"gb2312":   true,
	"gb-2312":  true,
	"gb18030":  true,
	"gb-18030": true,
	"big5":     true,
	"euc-tw":   true,
}

// detectCharset is a hook so tests can pin detector verdicts.
var detectCharset = func(data []byte) (charset string, confidence int, ok bool) {
	best, err := chardet.NewTextDetector().DetectBest(data)
	if err != nil || best == nil {
		return "", 0, false
	}
	return best.Charset, best.Confidence, true
}

// ReadFile reads the file at p and returns its content transcoded to UTF-8.
func (s *Service) ReadFile(p string) (string, error) {
	f, err := s.fs.Open(p)
	if err != nil {
		return "", fmt.Errorf("sftp: readfile %q: %w", p, err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxReadFileBytes+1))
	if err != nil {
		return "", fmt.Errorf("sftp: readfile %q: %w", p, err)
	}
	if len(data) > maxReadFileBytes {
		return "", fmt.Errorf("sftp: readfile %q: file exceeds %d bytes", p, maxReadFileBytes)
	}
	return decodeText(data), nil
}

// decodeText transcodes file bytes to UTF-8.
//
// Detection is advisory. Anything in the GB family decodes as GB18030 so a
// GBK file misdetected as GB2312 still round-trips. A low-confidence verdict
// also tries GB18030 first since that is the common misdetection for east
// Asian text, falling back to the detected charset only if GB18030 produced
// replacement runes. Undetectable or unsupported charsets pass through as
// UTF-8.
func decodeText(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	charset, confidence, ok := detectCharset(data)
	if !ok {
		return string(data)
	}
	name := strings.ToLower(charset)
	switch {
	case name == "utf-8" || name == "utf8" || name == "ascii" || name == "us-ascii":
		return string(data)
	case gbFamily[name]:
		return decodeGB18030(data)
	case confidence < 90:
		out := decodeGB18030(data)
		if !strings.ContainsRune(out, utf8.RuneError) {
			return out
		}
		if decoded, ok := decodeAs(charset, data); ok {
			return decoded
		}
		return string(data)
	default:
		if decoded, ok := decodeAs(charset, data); ok {
			return decoded
		}
		return string(data)
	}
}

func decodeGB18030(data []byte) string {
	out, err := simplifiedchinese.GB18030.NewDecoder().Bytes(data)
	if err != nil {
		return string(data)
	}
	return string(out)
}

// decodeAs resolves a charset by its IANA name. Unknown names and names the
// text repo has no table for report !ok.
func decodeAs(charset string, data []byte) (string, bool) {
	enc, err := ianaindex.IANA.Encoding(charset)
	if err != nil || enc == nil {
		return "", false
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", false
	}
	return string(out), true
}
