package assemble

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"

	"echoscript/internal/domain"
)

// Fixed OOXML package parts. A .docx file is a zip archive; these three
// parts are the minimum a word processor needs to open the document.
const (
	docxContentTypes = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n" +
		`<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">` +
		`<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>` +
		`<Default Extension="xml" ContentType="application/xml"/>` +
		`<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>` +
		`</Types>`

	docxRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n" +
		`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
		`<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>` +
		`</Relationships>`

	docxDocumentOpen = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n" +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`

	docxDocumentClose = `</w:body></w:document>`
)

// renderDocx packages the transcript as a minimal WordprocessingML
// document: one paragraph holding the joined segment text, matching the
// plain-text rendering. Zero segments yield a valid empty document.
func renderDocx(segments []domain.TranscriptSegment) ([]byte, error) {
	var doc strings.Builder
	doc.WriteString(docxDocumentOpen)
	if text := joinedText(segments); text != "" {
		doc.WriteString(`<w:p><w:r><w:t xml:space="preserve">`)
		if err := xml.EscapeText(&doc, []byte(text)); err != nil {
			return nil, &AssembleError{
				Format:  domain.FormatWord,
				Message: "escape transcript text",
				Err:     err,
			}
		}
		doc.WriteString(`</w:t></w:r></w:p>`)
	}
	doc.WriteString(docxDocumentClose)

	parts := []struct {
		name string
		body string
	}{
		{"[Content_Types].xml", docxContentTypes},
		{"_rels/.rels", docxRels},
		{"word/document.xml", doc.String()},
	}

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, part := range parts {
		f, err := w.Create(part.name)
		if err != nil {
			return nil, docxPackageError(part.name, err)
		}
		if _, err := f.Write([]byte(part.body)); err != nil {
			return nil, docxPackageError(part.name, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, &AssembleError{
			Format:  domain.FormatWord,
			Message: "finalize document package",
			Err:     err,
		}
	}
	return buf.Bytes(), nil
}

func docxPackageError(part string, err error) error {
	return &AssembleError{
		Format:  domain.FormatWord,
		Message: fmt.Sprintf("write package part %s", part),
		Err:     err,
	}
}
