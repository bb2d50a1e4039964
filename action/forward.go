// SPDX-License-Identifier: GPL-3.0-or-later
package action

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/mailsweep/mailsweep/domain"

	"github.com/emersion/go-message/mail"
)

// buildForward wraps the original message as a message/rfc822 attachment
// in a fresh message addressed to the forward destination.
func buildForward(original *domain.MailMessage, from string, to string) ([]byte, error) {
	var header mail.Header
	header.SetDate(time.Now())
	header.SetAddressList("From", []*mail.Address{{Address: from}})

	recipients := []*mail.Address{}
	for _, addr := range splitLabels(to) {
		recipients = append(recipients, &mail.Address{Address: addr})
	}
	header.SetAddressList("To", recipients)

	subject := "Fwd:"
	if original.Subject != "" {
		subject = "Fwd: " + original.Subject
	}
	header.SetSubject(subject)
	header.Set("Auto-Submitted", "auto-forwarded")

	buf := &bytes.Buffer{}
	mw, err := mail.CreateWriter(buf, header)
	if err != nil {
		return nil, fmt.Errorf("could not create mail writer: %w", err)
	}

	iw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("could not create inline part: %w", err)
	}
	var inlineHeader mail.InlineHeader
	inlineHeader.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	pw, err := iw.CreatePart(inlineHeader)
	if err != nil {
		return nil, fmt.Errorf("could not create text part: %w", err)
	}
	_, err = io.WriteString(pw, "Forwarded message attached.\r\n")
	if err != nil {
		return nil, fmt.Errorf("could not write text part: %w", err)
	}
	pw.Close()
	iw.Close()

	var attachmentHeader mail.AttachmentHeader
	attachmentHeader.SetContentType("message/rfc822", nil)
	attachmentHeader.SetFilename("forwarded.eml")
	aw, err := mw.CreateAttachment(attachmentHeader)
	if err != nil {
		return nil, fmt.Errorf("could not create attachment: %w", err)
	}
	_, err = aw.Write(original.Raw)
	if err != nil {
		return nil, fmt.Errorf("could not write attachment: %w", err)
	}
	aw.Close()

	mw.Close()
	return buf.Bytes(), nil
}
