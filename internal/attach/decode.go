package attach

import (
	"bytes"
	"encoding/csv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// decodeText converts raw bytes to a UTF-8 string: BOM-declared encodings
// first, then valid UTF-8 as-is, then a Latin-1 fallback that cannot fail.
func decodeText(data []byte) string {
	switch {
	case bytes.HasPrefix(data, bomUTF8):
		data = data[len(bomUTF8):]
	case bytes.HasPrefix(data, bomUTF16LE):
		if out, _, err := transform.Bytes(unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder(), data); err == nil {
			return string(out)
		}
	case bytes.HasPrefix(data, bomUTF16BE):
		if out, _, err := transform.Bytes(unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewDecoder(), data); err == nil {
			return string(out)
		}
	}

	if utf8.Valid(data) {
		return string(data)
	}

	if out, _, err := transform.Bytes(charmap.ISO8859_1.NewDecoder(), data); err == nil {
		return string(out)
	}
	return strings.ToValidUTF8(string(data), string(utf8.RuneError))
}

// looksBinary is a cheap sniff: NUL bytes without a UTF-16 BOM mean the data
// is not text we can decode.
func looksBinary(data []byte) bool {
	if bytes.HasPrefix(data, bomUTF16LE) || bytes.HasPrefix(data, bomUTF16BE) {
		return false
	}
	return bytes.IndexByte(data, 0) >= 0
}

// extractCSV re-renders a CSV file as tab-separated rows. Files that do not
// parse as CSV are included as plain text rather than rejected.
func extractCSV(data []byte) (string, error) {
	text, err := extractText(data)
	if err != nil {
		return "", err
	}

	reader := csv.NewReader(strings.NewReader(text))
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return text, nil
	}

	var b strings.Builder
	for _, row := range rows {
		b.WriteString(strings.Join(row, "\t"))
		b.WriteByte('\n')
	}
	return b.String(), nil
}
