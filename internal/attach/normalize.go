// Package attach converts uploaded files of heterogeneous formats into plain
// text context blocks, enforcing per-file and aggregate size limits. A bad
// attachment never fails the request; it is replaced by an inline stand-in.
package attach

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"chatrelay/internal/chat"
)

// Limits bounds a normalization run. Zero values are replaced by Defaults.
type Limits struct {
	PerFileChars      int
	TotalChars        int
	MaxArchiveMembers int
	MaxArchiveDepth   int
}

// Defaults mirrors the config-level fallback bounds.
var Defaults = Limits{
	PerFileChars:      40_000,
	TotalChars:        120_000,
	MaxArchiveMembers: 32,
	MaxArchiveDepth:   2,
}

// TruncationMarker is appended whenever a file's extracted text is cut at the
// per-file budget, so the model is told context is missing.
const TruncationMarker = "\n[truncated]"

// Normalized is the result of processing one attachment.
type Normalized struct {
	Filename  string
	Text      string
	Truncated bool
	Omitted   bool
}

type fileKind int

const (
	kindText fileKind = iota
	kindJSON
	kindCSV
	kindDocx
	kindXlsx
	kindPDF
	kindZip
	kindUnknown
)

var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".log": true,
	".py": true, ".go": true, ".js": true, ".ts": true,
	".css": true, ".html": true, ".htm": true,
	".yaml": true, ".yml": true, ".xml": true,
	".ini": true, ".toml": true, ".sh": true,
}

var mimeKinds = map[string]fileKind{
	"application/json": kindJSON,
	"text/csv":         kindCSV,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": kindDocx,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       kindXlsx,
	"application/pdf": kindPDF,
	"application/zip": kindZip,
}

// classify dispatches on the file extension, falling back to the declared
// media type for extensionless uploads.
func classify(filename, mimeHint string) fileKind {
	switch ext := strings.ToLower(filepath.Ext(filename)); {
	case textExtensions[ext]:
		return kindText
	case ext == ".json":
		return kindJSON
	case ext == ".csv":
		return kindCSV
	case ext == ".docx":
		return kindDocx
	case ext == ".xlsx":
		return kindXlsx
	case ext == ".pdf":
		return kindPDF
	case ext == ".zip":
		return kindZip
	}

	if mt := mediaType(mimeHint); mt != "" {
		if kind, ok := mimeKinds[mt]; ok {
			return kind
		}
		if strings.HasPrefix(mt, "text/") {
			return kindText
		}
	}
	return kindUnknown
}

// mediaType strips parameters like "; charset=utf-8" from a content type.
func mediaType(hint string) string {
	if i := strings.IndexByte(hint, ';'); i >= 0 {
		hint = hint[:i]
	}
	return strings.ToLower(strings.TrimSpace(hint))
}

// Normalize extracts plain text from one attachment and applies the per-file
// character budget. It never returns an error: undecodable or unsupported
// content yields an inline stand-in instead.
func Normalize(att chat.Attachment, lim Limits) Normalized {
	lim = withDefaults(lim)

	text, err := extract(att.Filename, att.MimeHint, att.Data, 0, lim)
	if err != nil {
		return Normalized{
			Filename: att.Filename,
			Text:     fmt.Sprintf("--- Error processing %s: %s ---", att.Filename, err),
		}
	}

	out := Normalized{Filename: att.Filename, Text: text}
	if runes := []rune(out.Text); len(runes) > lim.PerFileChars {
		out.Text = string(runes[:lim.PerFileChars]) + TruncationMarker
		out.Truncated = true
	}
	return out
}

// NormalizeAll normalizes attachments in upload order under the aggregate
// budget. Once the budget is exhausted every remaining attachment is dropped
// whole and replaced by an omission note; files are never partially
// interleaved out of order.
func NormalizeAll(atts []chat.Attachment, lim Limits) []Normalized {
	lim = withDefaults(lim)

	out := make([]Normalized, 0, len(atts))
	budget := lim.TotalChars
	exhausted := false
	for _, att := range atts {
		if exhausted {
			out = append(out, omitted(att.Filename))
			continue
		}
		n := Normalize(att, lim)
		if cost := len([]rune(n.Text)); cost > budget {
			exhausted = true
			out = append(out, omitted(att.Filename))
			continue
		} else {
			budget -= cost
		}
		out = append(out, n)
	}
	return out
}

func omitted(filename string) Normalized {
	return Normalized{
		Filename: filename,
		Text:     fmt.Sprintf("--- %s omitted: total attachment budget exhausted ---", filename),
		Omitted:  true,
	}
}

func extract(filename, mimeHint string, data []byte, depth int, lim Limits) (string, error) {
	switch classify(filename, mimeHint) {
	case kindText:
		return extractText(data)
	case kindJSON:
		return extractJSON(data)
	case kindCSV:
		return extractCSV(data)
	case kindDocx:
		return extractDocx(data)
	case kindXlsx:
		return extractXlsx(data)
	case kindZip:
		return extractArchive(filename, data, depth, lim)
	case kindPDF:
		return fmt.Sprintf("--- Content from PDF %s could not be extracted ---", filename), nil
	default:
		return "", fmt.Errorf("unsupported file type")
	}
}

func extractText(data []byte) (string, error) {
	if looksBinary(data) {
		return "", fmt.Errorf("binary content could not be decoded")
	}
	return decodeText(data), nil
}

func extractJSON(data []byte) (string, error) {
	text, err := extractText(data)
	if err != nil {
		return "", err
	}
	if !json.Valid([]byte(text)) {
		return text + "\n[note: file is not valid JSON]", nil
	}
	return text, nil
}

func withDefaults(lim Limits) Limits {
	if lim.PerFileChars <= 0 {
		lim.PerFileChars = Defaults.PerFileChars
	}
	if lim.TotalChars <= 0 {
		lim.TotalChars = Defaults.TotalChars
	}
	if lim.MaxArchiveMembers <= 0 {
		lim.MaxArchiveMembers = Defaults.MaxArchiveMembers
	}
	if lim.MaxArchiveDepth <= 0 {
		lim.MaxArchiveDepth = Defaults.MaxArchiveDepth
	}
	return lim
}
