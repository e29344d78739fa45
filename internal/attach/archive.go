package attach

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"strings"
)

// extractArchive expands a zip archive and re-dispatches each member. Depth,
// member count, and per-member decompressed size are all bounded so crafted
// archives cannot blow up memory or recurse forever.
func extractArchive(filename string, data []byte, depth int, lim Limits) (string, error) {
	if depth >= lim.MaxArchiveDepth {
		return "", fmt.Errorf("archive nesting exceeds depth limit")
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("invalid zip archive")
	}

	// Chars roughly equal bytes for the text we care about; a small multiple
	// of the per-file budget bounds decompression of any single member.
	memberByteBudget := int64(4 * lim.PerFileChars)

	var b strings.Builder
	members := 0
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		members++
		if members > lim.MaxArchiveMembers {
			fmt.Fprintf(&b, "\n--- %s: member limit reached, remaining entries skipped ---\n", filename)
			break
		}

		name := filename + "/" + f.Name
		text, err := readArchiveMember(f, name, memberByteBudget, depth, lim)
		if err != nil {
			text = fmt.Sprintf("--- Error processing %s: %s ---", name, err)
		}
		fmt.Fprintf(&b, "\n--- Content from %s ---\n%s\n---\n", name, text)
	}
	return b.String(), nil
}

func readArchiveMember(f *zip.File, name string, byteBudget int64, depth int, lim Limits) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("member unreadable")
	}
	defer rc.Close()

	content, err := io.ReadAll(io.LimitReader(rc, byteBudget))
	if err != nil {
		return "", fmt.Errorf("member unreadable")
	}
	// Archive members carry no upload header; extension only.
	return extract(f.Name, "", content, depth+1, lim)
}
