// SPDX-License-Identifier: GPL-3.0-or-later

// Package action applies rule and spam actions to messages through the
// mailbox capability. The action set is a closed tagged variant
// dispatched in a single switch so the state machine stays auditable.
package action

import (
	"fmt"
	"strings"

	"github.com/mailsweep/mailsweep/domain"
	"github.com/mailsweep/mailsweep/log"

	"github.com/sirupsen/logrus"
)

// archiveCandidates are conventional archive folder names tried in order
// when an Archive action names no destination.
var archiveCandidates = []string{"Archive", "Archivio", "[Gmail]/All Mail", "[Gmail]/Tutti i messaggi"}

type Executor struct {
	mailbox domain.Mailbox
	// sender is the outbound transport for Forward, nil means Forward
	// is a warn-level no-op
	sender domain.Sender
	from   string

	supportsKeywords bool

	l *logrus.Logger
}

func NewExecutor(mailbox domain.Mailbox, sender domain.Sender, from string, supportsKeywords bool) *Executor {
	return &Executor{
		mailbox:          mailbox,
		sender:           sender,
		from:             from,
		supportsKeywords: supportsKeywords,
		l:                log.Logger(log.LOG_RULE),
	}
}

// Apply performs one action on one message. The returned flag reports
// whether the message was marked deleted in the source folder, so the
// caller knows an expunge is due at the end of the pass.
//
// Configuration-level problems (missing destination, unsupported
// keywords, no transport) skip the action with a warning and no error:
// the watermark must still advance past the message.
func (x *Executor) Apply(actionType domain.ActionType, destination string, msg *domain.MailMessage) (bool, error) {
	baseLogger := x.l.WithFields(logrus.Fields{"uid": msg.Uid, "action": actionType, "destination": destination})

	switch actionType {
	case domain.ActionMove:
		if destination == "" {
			baseLogger.Warn("Move without destination, action skipped")
			return false, nil
		}
		return x.move(msg, destination)

	case domain.ActionCopy:
		if destination == "" {
			baseLogger.Warn("Copy without destination, action skipped")
			return false, nil
		}
		err := x.mailbox.EnsureFolder(destination)
		if err != nil {
			return false, fmt.Errorf("could not ensure destination folder: %w", err)
		}
		err = x.mailbox.Copy(msg.Uid, destination)
		if err != nil {
			return false, fmt.Errorf("could not copy mail: %w", err)
		}
		return false, nil

	case domain.ActionDelete:
		err := x.mailbox.AddFlags(msg.Uid, domain.FlagDeleted)
		if err != nil {
			return false, fmt.Errorf("could not flag mail deleted: %w", err)
		}
		return true, nil

	case domain.ActionMarkRead:
		return false, x.mailbox.AddFlags(msg.Uid, domain.FlagSeen)

	case domain.ActionMarkUnread:
		return false, x.mailbox.RemoveFlags(msg.Uid, domain.FlagSeen)

	case domain.ActionFlag:
		return false, x.mailbox.AddFlags(msg.Uid, domain.FlagFlagged)

	case domain.ActionAddLabel, domain.ActionRemoveLabel:
		if !x.supportsKeywords {
			baseLogger.Warn("Server does not support custom keywords, label action skipped")
			return false, nil
		}
		labels := splitLabels(destination)
		if len(labels) == 0 {
			baseLogger.Warn("Label action without labels, skipped")
			return false, nil
		}
		if actionType == domain.ActionAddLabel {
			return false, x.mailbox.AddFlags(msg.Uid, labels...)
		}
		return false, x.mailbox.RemoveFlags(msg.Uid, labels...)

	case domain.ActionArchive:
		folder := destination
		if folder == "" {
			folder = x.resolveArchiveFolder()
			if folder == "" {
				baseLogger.Warn("No archive folder found, action skipped")
				return false, nil
			}
		}
		return x.move(msg, folder)

	case domain.ActionForward:
		if x.sender == nil {
			baseLogger.Warn("No outbound transport configured, forward skipped")
			return false, nil
		}
		raw, err := buildForward(msg, x.from, destination)
		if err != nil {
			return false, fmt.Errorf("could not build forward: %w", err)
		}
		err = x.sender.Send(x.from, splitLabels(destination), raw)
		if err != nil {
			return false, fmt.Errorf("could not send forward: %w", err)
		}
		return false, nil

	case domain.ActionStop:
		// first-match-wins already halts evaluation for this message
		return false, nil
	}

	return false, fmt.Errorf("unsupported action type %q", actionType)
}

// move prefers an atomic server-side move, otherwise copies to the
// destination and flags the source copy deleted.
func (x *Executor) move(msg *domain.MailMessage, destination string) (bool, error) {
	err := x.mailbox.EnsureFolder(destination)
	if err != nil {
		return false, fmt.Errorf("could not ensure destination folder: %w", err)
	}

	if x.mailbox.CanMove() {
		err = x.mailbox.Move(msg.Uid, destination)
		if err != nil {
			return false, fmt.Errorf("could not move mail: %w", err)
		}
		return false, nil
	}

	err = x.mailbox.Copy(msg.Uid, destination)
	if err != nil {
		return false, fmt.Errorf("could not copy mail for move: %w", err)
	}
	err = x.mailbox.AddFlags(msg.Uid, domain.FlagDeleted)
	if err != nil {
		return false, fmt.Errorf("could not flag moved mail deleted: %w", err)
	}
	return true, nil
}

func (x *Executor) resolveArchiveFolder() string {
	folders, err := x.mailbox.ListFolders()
	if err != nil {
		x.l.WithField("error", err).Warn("Could not list folders to resolve archive")
		return ""
	}

	existing := map[string]bool{}
	for _, f := range folders {
		existing[f] = true
	}
	for _, candidate := range archiveCandidates {
		if existing[candidate] {
			return candidate
		}
	}
	return ""
}

// splitLabels splits "a,b ; c" into ["a" "b" "c"].
func splitLabels(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';'
	})

	labels := []string{}
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			labels = append(labels, p)
		}
	}
	return labels
}
