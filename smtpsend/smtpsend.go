// SPDX-License-Identifier: GPL-3.0-or-later

// Package smtpsend is the outbound transport for forwarded mail. A
// fresh connection is made per send, forwards are rare enough that
// connection reuse is not worth the session bookkeeping.
package smtpsend

import (
	"bytes"
	"fmt"

	"github.com/mailsweep/mailsweep/log"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/sirupsen/logrus"
)

type SmtpSender struct {
	host     string
	port     int
	username string
	password string

	l *logrus.Logger
}

func NewSmtpSender(host string, port int, username, password string) *SmtpSender {
	return &SmtpSender{
		host:     host,
		port:     port,
		username: username,
		password: password,
		l:        log.Logger(log.LOG_SMTP),
	}
}

func (s *SmtpSender) addr() string {
	return fmt.Sprintf("%s:%d", s.host, s.port)
}

func (s *SmtpSender) auth() sasl.Client {
	if s.username == "" {
		return nil
	}
	return sasl.NewPlainClient("", s.username, s.password)
}

func (s *SmtpSender) Send(from string, to []string, rawMail []byte) error {
	var err error
	if s.port == 465 {
		// implicit TLS, STARTTLS is not spoken on 465
		err = s.sendImplicitTLS(from, to, rawMail)
	} else {
		err = smtp.SendMail(s.addr(), s.auth(), from, to, bytes.NewReader(rawMail))
	}
	if err != nil {
		return fmt.Errorf("could not send mail: %w", err)
	}

	s.l.WithFields(logrus.Fields{"from": from, "to": to}).Debug("Sent mail")
	return nil
}

func (s *SmtpSender) sendImplicitTLS(from string, to []string, rawMail []byte) error {
	c, err := smtp.DialTLS(s.addr(), nil)
	if err != nil {
		return fmt.Errorf("could not dial to smtp: %w", err)
	}
	defer c.Close()

	if auth := s.auth(); auth != nil {
		err = c.Auth(auth)
		if err != nil {
			return fmt.Errorf("could not authenticate to smtp: %w", err)
		}
	}

	err = c.SendMail(from, to, bytes.NewReader(rawMail))
	if err != nil {
		return err
	}

	return c.Quit()
}
