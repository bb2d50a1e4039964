// SPDX-License-Identifier: GPL-3.0-or-later

// Package mailtext turns a MIME part tree into bounded plain text for
// rule matching.
package mailtext

import (
	"regexp"
	"strings"

	"github.com/jaytaylor/html2text"
)

// DefaultMaxChars is the hard cap on extracted text, pathological
// messages are truncated silently.
const DefaultMaxChars = 200_000

var (
	newlineRuns = regexp.MustCompile(`(?:\r\n|\r|\n)+`)
	spaceRuns   = regexp.MustCompile(`[\t\x0B\f ]{2,}`)
)

// ExtractMessage parses a raw RFC822 message and extracts its text with
// the default bound. Unparseable input yields "".
func ExtractMessage(raw []byte) string {
	part, err := FromRaw(raw)
	if err != nil {
		return ""
	}
	return Extract(part, DefaultMaxChars)
}

// Extract walks the part tree and returns at most maxChars characters of
// plain text.
func Extract(part Part, maxChars int) string {
	e := &extractor{out: &strings.Builder{}, max: maxChars}
	e.extractPart(part)

	out := strings.TrimSpace(e.out.String())
	runes := []rune(out)
	if len(runes) > maxChars {
		out = string(runes[:maxChars])
	}
	return out
}

type extractor struct {
	out *strings.Builder
	max int
}

func (e *extractor) full() bool {
	return e.out.Len() >= e.max
}

func (e *extractor) extractPart(part Part) {
	if part == nil || e.full() {
		return
	}

	if skippableBinary(part) {
		return
	}

	mediaType := part.MediaType()
	switch {
	case mediaType == "text/plain":
		e.appendParagraph(cleanText(partText(part)))

	case mediaType == "text/html":
		e.appendParagraph(htmlToPlainText(partText(part)))

	case mediaType == "multipart/alternative":
		e.appendParagraph(pickFromAlternative(part.Children()))

	case mediaType == "multipart/related":
		// usually HTML plus inline images, first textual child wins
		for _, child := range part.Children() {
			if strings.HasPrefix(child.MediaType(), "text/") {
				e.extractPart(child)
				break
			}
		}

	case strings.HasPrefix(mediaType, "multipart/"):
		for _, child := range part.Children() {
			e.extractPart(child)
		}

	case mediaType == "message/rfc822":
		nested, err := FromRaw([]byte(partText(part)))
		if err == nil {
			e.extractPart(nested)
		}

	case strings.HasPrefix(mediaType, "text/"):
		e.appendParagraph(cleanText(partText(part)))
	}
}

func (e *extractor) appendParagraph(text string) {
	if text == "" || e.full() {
		return
	}
	if e.out.Len() > 0 {
		e.out.WriteString("\n")
	}
	e.out.WriteString(text)
	e.out.WriteString("\n\n")
}

// pickFromAlternative models the convention that the last alternative is
// the richest: scan last to first preferring text/html, then text/plain,
// then any textual type.
func pickFromAlternative(children []Part) string {
	for i := len(children) - 1; i >= 0; i-- {
		if !skippableBinary(children[i]) && children[i].MediaType() == "text/html" {
			return htmlToPlainText(partText(children[i]))
		}
	}
	for i := len(children) - 1; i >= 0; i-- {
		if !skippableBinary(children[i]) && children[i].MediaType() == "text/plain" {
			return cleanText(partText(children[i]))
		}
	}
	for i := len(children) - 1; i >= 0; i-- {
		if !skippableBinary(children[i]) && strings.HasPrefix(children[i].MediaType(), "text/") {
			return cleanText(partText(children[i]))
		}
	}
	return ""
}

// skippableBinary reports whether a part is a non-text resource
// (attachment, inline image, pdf and the like).
func skippableBinary(part Part) bool {
	if part.Disposition() == "attachment" {
		return true
	}

	mediaType := part.MediaType()
	textish := strings.HasPrefix(mediaType, "text/") || strings.HasPrefix(mediaType, "message/")

	if part.Filename() != "" && !textish {
		return true
	}
	if part.ContentID() != "" && !textish {
		return true
	}
	if strings.HasPrefix(mediaType, "image/") {
		return true
	}

	return false
}

func partText(part Part) string {
	text, err := part.Text()
	if err != nil {
		return ""
	}
	return text
}

func htmlToPlainText(html string) string {
	if html == "" {
		return ""
	}
	text, err := html2text.FromString(html, html2text.Options{TextOnly: true})
	if err != nil {
		return ""
	}
	return cleanText(text)
}

// cleanText collapses non-breaking spaces, whitespace runs and repeated
// newlines.
func cleanText(text string) string {
	text = strings.ReplaceAll(text, "\u00a0", " ")
	text = newlineRuns.ReplaceAllString(text, "\n")
	text = spaceRuns.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
