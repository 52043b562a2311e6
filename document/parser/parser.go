// Package parser provides format detection and parsing for uploaded contract
// documents. Parsers normalize each supported format to plain text so the
// splitter can work on a single representation.
package parser

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/contrail-ai/contrail/document"
)

// Document is the normalized result of parsing an upload.
type Document struct {
	Filename string
	Title    string
	Body     string
}

// Parser defines the interface for document parsers.
type Parser interface {
	// Parse parses a document and returns its normalized text.
	Parse(filename string, content []byte) (*Document, error)

	// CanParse returns true if this parser handles the given MIME type.
	CanParse(mimeType string) bool

	// MimeType returns the primary MIME type for this parser.
	MimeType() string
}

// Registry manages document parsers keyed by primary MIME type.
type Registry struct {
	mu      sync.RWMutex
	parsers map[string]Parser
}

// NewRegistry creates a registry with the default parsers registered.
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	r.Register(NewPlainParser())
	r.Register(NewMarkdownParser())
	r.Register(NewHTMLParser())
	return r
}

// Register adds a parser to the registry.
func (r *Registry) Register(p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers[p.MimeType()] = p
}

// GetByMimeType returns a parser for the given MIME type, or nil.
func (r *Registry) GetByMimeType(mimeType string) Parser {
	// Strip parameters like "; charset=utf-8"
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = mimeType[:i]
	}
	mimeType = strings.TrimSpace(strings.ToLower(mimeType))

	r.mu.RLock()
	defer r.mu.RUnlock()

	if p, ok := r.parsers[mimeType]; ok {
		return p
	}
	for _, p := range r.parsers {
		if p.CanParse(mimeType) {
			return p
		}
	}
	return nil
}

// Detect resolves a parser from a content-type hint, falling back to the
// filename extension when the hint is absent or unknown.
func (r *Registry) Detect(contentType, filename string) Parser {
	if contentType != "" {
		if p := r.GetByMimeType(contentType); p != nil {
			return p
		}
	}
	if filename != "" {
		return r.GetByMimeType(MimeTypeFromExtension(filepath.Ext(filename)))
	}
	return nil
}

// Parse parses a document using the detected parser. An unrecognized format
// yields document.ErrUnsupportedFormat; a recognized format that fails to
// parse yields document.ErrParseFailure.
func (r *Registry) Parse(contentType, filename string, content []byte) (*Document, error) {
	p := r.Detect(contentType, filename)
	if p == nil {
		return nil, fmt.Errorf("%w: no parser for content type %q (file %q)",
			document.ErrUnsupportedFormat, contentType, filename)
	}
	doc, err := p.Parse(filename, content)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", document.ErrParseFailure, p.MimeType(), err)
	}
	return doc, nil
}

// MimeTypeFromExtension returns the MIME type for a file extension.
func MimeTypeFromExtension(ext string) string {
	switch strings.ToLower(ext) {
	case ".md", ".markdown":
		return "text/markdown"
	case ".txt", ".text":
		return "text/plain"
	case ".html", ".htm":
		return "text/html"
	default:
		return "application/octet-stream"
	}
}
