package document

import "errors"

// Splitter failure taxonomy. These surface as request-level errors to the
// caller; no task is created when splitting fails.
var (
	// ErrUnsupportedFormat indicates no parser accepts the document's format.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrEmptyDocument indicates the upload contained no content.
	ErrEmptyDocument = errors.New("empty document")

	// ErrParseFailure indicates the format was recognized but parsing failed.
	ErrParseFailure = errors.New("document parse failure")
)
