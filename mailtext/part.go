// SPDX-License-Identifier: GPL-3.0-or-later
package mailtext

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
)

// Part abstracts one node of a MIME tree so the traversal logic is
// independent of the mail library supplying the concrete tree.
type Part interface {
	// MediaType is the lowercased content type, e.g. "text/plain".
	MediaType() string
	// Disposition is the lowercased content disposition, "" when absent.
	Disposition() string
	Filename() string
	ContentID() string
	Children() []Part
	// Text is the decoded body of a leaf part. Transfer encoding and
	// charset are already unwrapped to UTF-8 where possible.
	Text() (string, error)
}

type messagePart struct {
	mediaType   string
	disposition string
	filename    string
	contentID   string
	children    []Part
	body        []byte
	bodyErr     error
}

func (p *messagePart) MediaType() string   { return p.mediaType }
func (p *messagePart) Disposition() string { return p.disposition }
func (p *messagePart) Filename() string    { return p.filename }
func (p *messagePart) ContentID() string   { return p.contentID }
func (p *messagePart) Children() []Part    { return p.children }

func (p *messagePart) Text() (string, error) {
	if p.bodyErr != nil {
		return "", p.bodyErr
	}
	return string(p.body), nil
}

// FromRaw parses a raw RFC822 message into a Part tree. Unknown charsets
// degrade to the undecoded bytes instead of failing the whole message.
func FromRaw(raw []byte) (Part, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("could not parse message: %w", err)
	}

	return fromEntity(entity), nil
}

func fromEntity(e *message.Entity) *messagePart {
	p := &messagePart{}

	mediaType, typeParams, err := e.Header.ContentType()
	if err != nil {
		mediaType = "text/plain"
		typeParams = nil
	}
	p.mediaType = strings.ToLower(mediaType)

	disposition, dispParams, err := e.Header.ContentDisposition()
	if err == nil {
		p.disposition = strings.ToLower(disposition)
		p.filename = dispParams["filename"]
	}
	if p.filename == "" && typeParams != nil {
		p.filename = typeParams["name"]
	}
	p.contentID = strings.Trim(e.Header.Get("Content-Id"), "<>")

	if mr := e.MultipartReader(); mr != nil {
		for {
			child, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil && !message.IsUnknownCharset(err) {
				// malformed remainder, keep what parsed so far
				break
			}
			p.children = append(p.children, fromEntity(child))
		}
	} else {
		p.body, p.bodyErr = io.ReadAll(e.Body)
	}

	return p
}
