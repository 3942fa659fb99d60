// Package extract turns uploaded documents into plain text.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/kalambet/jurist/internal/fault"
)

// Extractor converts a document's bytes into text, choosing the parser by
// file extension.
type Extractor struct{}

// New creates an Extractor.
func New() *Extractor { return &Extractor{} }

// Supported reports whether filename has an extension Extract understands.
func Supported(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf", ".html", ".htm", ".txt", ".md", ".csv", ".json":
		return true
	}
	return false
}

// Extract returns the text content of data. Unknown types and parse failures
// are provider faults.
func (e *Extractor) Extract(ctx context.Context, filename string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fault.ProviderErr("extract", err)
	}

	var (
		text string
		err  error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		text, err = pdfText(data)
	case ".html", ".htm":
		text, err = htmlText(data)
	case ".txt", ".md", ".csv", ".json":
		if !utf8.Valid(data) {
			err = fmt.Errorf("%s is not valid UTF-8", filename)
		}
		text = string(data)
	default:
		err = fmt.Errorf("unsupported document type %q", filepath.Ext(filename))
	}
	if err != nil {
		return "", fault.ProviderErr("extract "+filename, err)
	}
	return strings.TrimSpace(text), nil
}

func pdfText(data []byte) (text string, err error) {
	// The pdf package panics on some malformed documents.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return string(b), nil
}

func htmlText(data []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parsing html: %w", err)
	}
	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style) {
			return
		}
		if n.Type == html.TextNode {
			if s := strings.Join(strings.Fields(n.Data), " "); s != "" {
				parts = append(parts, s)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.Join(parts, "\n"), nil
}
