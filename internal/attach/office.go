package attach

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// extractDocx pulls the text runs out of a docx container
// (word/document.xml), one line per paragraph.
func extractDocx(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("not a valid docx container")
	}

	var doc io.ReadCloser
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc, err = f.Open()
			if err != nil {
				return "", fmt.Errorf("docx document part unreadable")
			}
			break
		}
	}
	if doc == nil {
		return "", fmt.Errorf("docx missing document part")
	}
	defer doc.Close()

	var b strings.Builder
	dec := xml.NewDecoder(doc)
	inRun := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("docx document part malformed")
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inRun = true
			case "tab":
				b.WriteByte('\t')
			case "br":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inRun = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inRun {
				b.Write(t)
			}
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// extractXlsx renders each worksheet of an xlsx container as tab-separated
// rows, resolving shared string cells.
func extractXlsx(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("not a valid xlsx container")
	}

	shared, err := xlsxSharedStrings(zr)
	if err != nil {
		return "", err
	}

	var sheets []*zip.File
	for _, f := range zr.File {
		if strings.HasPrefix(f.Name, "xl/worksheets/") && strings.HasSuffix(f.Name, ".xml") {
			sheets = append(sheets, f)
		}
	}
	if len(sheets) == 0 {
		return "", fmt.Errorf("xlsx has no worksheets")
	}
	sort.Slice(sheets, func(i, j int) bool { return sheets[i].Name < sheets[j].Name })

	var b strings.Builder
	for i, f := range sheets {
		if len(sheets) > 1 {
			fmt.Fprintf(&b, "[sheet %d]\n", i+1)
		}
		if err := xlsxRenderSheet(&b, f, shared); err != nil {
			return "", err
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func xlsxSharedStrings(zr *zip.Reader) ([]string, error) {
	var part *zip.File
	for _, f := range zr.File {
		if f.Name == "xl/sharedStrings.xml" {
			part = f
			break
		}
	}
	if part == nil {
		return nil, nil
	}

	rc, err := part.Open()
	if err != nil {
		return nil, fmt.Errorf("xlsx shared strings unreadable")
	}
	defer rc.Close()

	var (
		shared  []string
		current strings.Builder
		inItem  bool
		inText  bool
	)
	dec := xml.NewDecoder(rc)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("xlsx shared strings malformed")
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "si":
				inItem = true
				current.Reset()
			case "t":
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "si":
				inItem = false
				shared = append(shared, current.String())
			case "t":
				inText = false
			}
		case xml.CharData:
			if inItem && inText {
				current.Write(t)
			}
		}
	}
	return shared, nil
}

func xlsxRenderSheet(b *strings.Builder, f *zip.File, shared []string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("xlsx worksheet unreadable")
	}
	defer rc.Close()

	var (
		row      []string
		cellType string
		inValue  bool
		value    strings.Builder
	)
	flushCell := func() {
		text := value.String()
		if cellType == "s" {
			if i, err := strconv.Atoi(strings.TrimSpace(text)); err == nil && i >= 0 && i < len(shared) {
				text = shared[i]
			}
		}
		row = append(row, text)
		value.Reset()
	}

	dec := xml.NewDecoder(rc)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("xlsx worksheet malformed")
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "row":
				row = row[:0]
			case "c":
				cellType = ""
				value.Reset()
				for _, attr := range t.Attr {
					if attr.Name.Local == "t" {
						cellType = attr.Value
					}
				}
			case "v", "t":
				inValue = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "row":
				b.WriteString(strings.Join(row, "\t"))
				b.WriteByte('\n')
			case "c":
				flushCell()
			case "v", "t":
				inValue = false
			}
		case xml.CharData:
			if inValue {
				value.Write(t)
			}
		}
	}
	return nil
}
