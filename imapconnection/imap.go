// SPDX-License-Identifier: GPL-3.0-or-later

// Package imapconnection implements the mailbox capability on top of a
// live IMAP connection. One connection serves one account for the
// duration of a scan pass.
package imapconnection

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/mailsweep/mailsweep/domain"
	"github.com/mailsweep/mailsweep/log"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap-move"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"
)

type ImapConnection struct {
	connection *client.Client
	moveClient *move.Client

	moveSupported  bool
	selectedFolder string

	// folder names seen via List or Create, avoids re-listing on every
	// EnsureFolder call
	knownFolders map[string]bool

	l *logrus.Logger
}

func NewImapConnection(account *domain.Account) (*ImapConnection, error) {
	var imapClient *client.Client
	var err error

	if account.SSL {
		imapClient, err = client.DialTLS(account.Addr(), nil)
	} else {
		imapClient, err = client.Dial(account.Addr())
	}
	if err != nil {
		return nil, fmt.Errorf("could not dial to imap: %w", err)
	}

	err = imapClient.Login(account.Username, account.Password)
	if err != nil {
		return nil, fmt.Errorf("could not login to imap: %w", err)
	}

	moveClient := move.NewClient(imapClient)
	moveSupported, err := moveClient.SupportMove()
	if err != nil {
		return nil, fmt.Errorf("could not check for MOVE support: %w", err)
	}

	conn := &ImapConnection{
		connection:    imapClient,
		moveClient:    moveClient,
		moveSupported: moveSupported,
		l:             log.Logger(log.LOG_IMAP),
	}

	baseLogger := conn.l.WithFields(logrus.Fields{"server": account.Addr(), "account": account.Name})
	baseLogger.Debug("Logged in to server")
	if !moveSupported {
		baseLogger.Info("MOVE not supported on server, falling back to copy&delete")
	}

	return conn, nil
}

func (ic *ImapConnection) Select(folder string) (*domain.FolderStatus, error) {
	m, err := ic.connection.Select(folder, false)
	if err != nil {
		return nil, fmt.Errorf("could not select folder: %w", err)
	}

	ic.selectedFolder = folder

	supportsKeywords := false
	for _, f := range m.PermanentFlags {
		if f == `\*` {
			supportsKeywords = true
			break
		}
	}

	return &domain.FolderStatus{
		UidValidity:      m.UidValidity,
		UidNext:          m.UidNext,
		SupportsKeywords: supportsKeywords,
	}, nil
}

// FetchRange fetches all messages with startUid <= UID <= endUid from
// the selected folder, ordered by ascending UID. Bodies are fetched
// with peek so the scan itself never marks mail read.
func (ic *ImapConnection) FetchRange(startUid, endUid uint32) ([]*domain.MailMessage, error) {
	seqset := &imap.SeqSet{}
	seqset.AddRange(startUid, endUid)

	fullBodySection := &imap.BodySectionName{
		Peek: true,
	}
	fetchItems := []imap.FetchItem{
		imap.FetchUid,
		imap.FetchEnvelope,
		imap.FetchFlags,
		fullBodySection.FetchItem(),
	}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- ic.connection.UidFetch(seqset, fetchItems, messages)
	}()

	mails := []*domain.MailMessage{}
	for msg := range messages {
		var rawBody []byte
		r := msg.GetBody(fullBodySection)
		if r != nil {
			var err error
			rawBody, err = io.ReadAll(r)
			if err != nil {
				// the fetch goroutine blocks on the channel send once the
				// buffer fills, it must be drained before bailing out
				drainFetch(messages, done)
				return nil, fmt.Errorf("could not read mail body: %w", err)
			}
		}

		mail := &domain.MailMessage{
			Uid:   msg.Uid,
			Flags: msg.Flags,
			Raw:   rawBody,
		}
		if msg.Envelope != nil {
			mail.Subject = msg.Envelope.Subject
			mail.From = formatAddresses(msg.Envelope.From)
			mail.To = formatAddresses(msg.Envelope.To)
			mail.Cc = formatAddresses(msg.Envelope.Cc)
			mail.Bcc = formatAddresses(msg.Envelope.Bcc)
		}

		mails = append(mails, mail)
	}

	err := <-done
	if err != nil {
		return nil, fmt.Errorf("could not fetch mails: %w", err)
	}

	// servers may deliver out of order, the watermark needs ascending UIDs
	sort.Slice(mails, func(i, j int) bool { return mails[i].Uid < mails[j].Uid })

	ic.l.WithFields(logrus.Fields{"folder": ic.selectedFolder, "count": len(mails)}).Debug("Fetched mails")
	return mails, nil
}

// drainFetch consumes the remainder of an aborted UID fetch so the
// producing goroutine can finish.
func drainFetch(messages <-chan *imap.Message, done <-chan error) {
	for range messages {
	}
	<-done
}

func (ic *ImapConnection) AddFlags(uid uint32, flags ...string) error {
	return ic.storeFlags(uid, imap.AddFlags, flags)
}

func (ic *ImapConnection) RemoveFlags(uid uint32, flags ...string) error {
	return ic.storeFlags(uid, imap.RemoveFlags, flags)
}

func (ic *ImapConnection) storeFlags(uid uint32, op imap.FlagsOp, flags []string) error {
	seqset := &imap.SeqSet{}
	seqset.AddNum(uid)

	items := make([]interface{}, len(flags))
	for i, f := range flags {
		items[i] = f
	}

	err := ic.connection.UidStore(seqset, imap.FormatFlagsOp(op, true), items, nil)
	if err != nil {
		return fmt.Errorf("could not store flags: %w", err)
	}
	return nil
}

func (ic *ImapConnection) Copy(uid uint32, folder string) error {
	seqset := &imap.SeqSet{}
	seqset.AddNum(uid)

	err := ic.connection.UidCopy(seqset, folder)
	if err != nil {
		return fmt.Errorf("could not copy mail: %w", err)
	}
	return nil
}

func (ic *ImapConnection) CanMove() bool {
	return ic.moveSupported
}

func (ic *ImapConnection) Move(uid uint32, folder string) error {
	seqset := &imap.SeqSet{}
	seqset.AddNum(uid)

	err := ic.moveClient.UidMove(seqset, folder)
	if err != nil {
		return fmt.Errorf("could not move mail: %w", err)
	}
	return nil
}

// EnsureFolder creates the folder if the server does not have it yet.
func (ic *ImapConnection) EnsureFolder(name string) error {
	if ic.knownFolders[name] {
		return nil
	}

	folders, err := ic.ListFolders()
	if err != nil {
		return err
	}
	for _, f := range folders {
		if f == name {
			return nil
		}
	}

	err = ic.connection.Create(name)
	if err != nil {
		return fmt.Errorf("could not create folder: %w", err)
	}

	ic.knownFolders[name] = true
	ic.l.WithField("folder", name).Info("Created folder")
	return nil
}

func (ic *ImapConnection) ListFolders() ([]string, error) {
	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- ic.connection.List("", "*", mailboxes)
	}()

	folders := []string{}
	for m := range mailboxes {
		folders = append(folders, m.Name)
	}

	err := <-done
	if err != nil {
		return nil, fmt.Errorf("could not list folders: %w", err)
	}

	if ic.knownFolders == nil {
		ic.knownFolders = map[string]bool{}
	}
	for _, f := range folders {
		ic.knownFolders[f] = true
	}

	return folders, nil
}

func (ic *ImapConnection) Expunge() error {
	err := ic.connection.Expunge(nil)
	if err != nil {
		return fmt.Errorf("could not expunge folder: %w", err)
	}

	ic.l.WithField("folder", ic.selectedFolder).Debug("Expunged folder")
	return nil
}

func (ic *ImapConnection) Close() error {
	return ic.connection.Logout()
}

// formatAddresses renders envelope addresses as "Name <mailbox@host>",
// or just the bare address when no display name is set.
func formatAddresses(addresses []*imap.Address) []string {
	formatted := []string{}
	for _, a := range addresses {
		if a == nil {
			continue
		}
		addr := a.Address()
		name := strings.TrimSpace(a.PersonalName)
		if name != "" {
			formatted = append(formatted, fmt.Sprintf("%s <%s>", name, addr))
		} else {
			formatted = append(formatted, addr)
		}
	}
	return formatted
}
