package parser

import (
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// PlainParser handles plain-text contract uploads.
type PlainParser struct{}

// NewPlainParser creates a new plain-text parser.
func NewPlainParser() *PlainParser {
	return &PlainParser{}
}

// Parse normalizes line endings and returns the text as the document body.
func (p *PlainParser) Parse(filename string, content []byte) (*Document, error) {
	body := string(content)
	if !utf8.ValidString(body) {
		body = strings.ToValidUTF8(body, "�")
	}
	body = strings.ReplaceAll(body, "\r\n", "\n")

	return &Document{
		Filename: filepath.Base(filename),
		Body:     body,
	}, nil
}

// CanParse returns true if this parser can handle the given MIME type.
func (p *PlainParser) CanParse(mimeType string) bool {
	return mimeType == "text/plain"
}

// MimeType returns the primary MIME type for this parser.
func (p *PlainParser) MimeType() string {
	return "text/plain"
}
