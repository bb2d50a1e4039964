// SPDX-License-Identifier: GPL-3.0-or-later

// Package mailsync drives incremental scan passes over account inboxes.
// A pass fetches only mail above the stored UID watermark, classifies
// and rule-matches each message, then advances the watermark. The
// watermark is persisted once per pass so a crash never skips mail, it
// only re-scans it.
package mailsync

import (
	"fmt"
	"time"

	"github.com/mailsweep/mailsweep/action"
	"github.com/mailsweep/mailsweep/domain"
	"github.com/mailsweep/mailsweep/log"
	"github.com/mailsweep/mailsweep/rules"

	"github.com/sirupsen/logrus"
)

// ConnectFunc opens a mailbox session for one account.
type ConnectFunc func(account *domain.Account) (domain.Mailbox, error)

type Synchronizer struct {
	connect ConnectFunc
	store   domain.StateStore

	// spamChecker is nil when no spam daemon is configured, accounts
	// with UseSpamFilter then fall through to rule matching only
	spamChecker domain.SpamChecker
	sender      domain.Sender
	smtpFrom    string

	engine *rules.Engine
	rules  []*domain.Rule

	l *logrus.Logger
}

func NewSynchronizer(connect ConnectFunc, store domain.StateStore, spamChecker domain.SpamChecker, sender domain.Sender, smtpFrom string, accountRules []*domain.Rule) *Synchronizer {
	return &Synchronizer{
		connect:     connect,
		store:       store,
		spamChecker: spamChecker,
		sender:      sender,
		smtpFrom:    smtpFrom,
		engine:      rules.NewEngine(),
		rules:       accountRules,
		l:           log.Logger(log.LOG_SYNC),
	}
}

// SyncAccount runs one scan pass over the account's inbox folder.
func (s *Synchronizer) SyncAccount(account *domain.Account) error {
	baseLogger := s.l.WithFields(logrus.Fields{"account": account.Name, "folder": account.InboxFolder})

	mailbox, err := s.connect(account)
	if err != nil {
		return fmt.Errorf("could not connect account %s: %w", account.Name, err)
	}
	defer func() {
		closeErr := mailbox.Close()
		if closeErr != nil {
			baseLogger.WithField("error", closeErr).Warn("Could not close mailbox cleanly")
		}
	}()

	status, err := mailbox.Select(account.InboxFolder)
	if err != nil {
		return fmt.Errorf("could not select folder %s: %w", account.InboxFolder, err)
	}

	state, err := s.store.Get(account.Name, account.InboxFolder)
	if err != nil {
		return fmt.Errorf("could not load sync state: %w", err)
	}
	if state == nil {
		state = &domain.SyncState{
			Account:     account.Name,
			Folder:      account.InboxFolder,
			UidValidity: status.UidValidity,
		}
		baseLogger.Info("No sync state yet, scanning folder from the beginning")
	}

	if state.RefreshValidity(status.UidValidity) {
		baseLogger.WithField("uidvalidity", status.UidValidity).Info("UIDVALIDITY changed, discarding watermark and rescanning folder")
	}

	startUid := state.LastProcessedUid + 1
	endUid := int64(status.UidNext) - 1

	if status.UidNext == 0 || startUid > endUid {
		baseLogger.Debug("Folder contains no new mails")
		return s.persist(state)
	}

	mails, err := mailbox.FetchRange(uint32(startUid), uint32(endUid))
	if err != nil {
		return fmt.Errorf("could not fetch mails: %w", err)
	}
	baseLogger.WithFields(logrus.Fields{"start": startUid, "end": endUid, "count": len(mails)}).Info("Scanning new mails")

	executor := action.NewExecutor(mailbox, s.sender, s.smtpFrom, status.SupportsKeywords)

	maxSeen := state.LastProcessedUid
	anyDeleted := false
	for _, msg := range mails {
		if !state.ShouldProcess(int64(msg.Uid), status.UidValidity) {
			continue
		}

		deleted, err := s.processMail(account, executor, msg)
		if err != nil {
			// persist progress up to the previous mail so the failed
			// one is retried on the next pass
			state.LastProcessedUid = maxSeen
			if persistErr := s.persist(state); persistErr != nil {
				baseLogger.WithField("error", persistErr).Error("Could not persist sync state after failure")
			}
			return fmt.Errorf("could not process mail %d: %w", msg.Uid, err)
		}

		anyDeleted = anyDeleted || deleted
		if int64(msg.Uid) > maxSeen {
			maxSeen = int64(msg.Uid)
		}
	}

	state.LastProcessedUid = maxSeen
	err = s.persist(state)
	if err != nil {
		return err
	}

	if anyDeleted {
		err = mailbox.Expunge()
		if err != nil {
			return fmt.Errorf("could not expunge folder: %w", err)
		}
	}

	baseLogger.WithField("watermark", maxSeen).Info("Scan pass complete")
	return nil
}

// processMail classifies and rule-matches one message. Spam handling
// wins over rules: a message the classifier flags never reaches the
// rule engine. Classifier failures are logged and the message falls
// through to rule matching, a flaky daemon must not stall the pass.
func (s *Synchronizer) processMail(account *domain.Account, executor *action.Executor, msg *domain.MailMessage) (bool, error) {
	mailLogger := s.l.WithFields(logrus.Fields{"account": account.Name, "uid": msg.Uid})

	if account.UseSpamFilter && s.spamChecker != nil {
		verdict, err := s.spamChecker.Check(msg.Raw)
		if err != nil {
			mailLogger.WithField("error", err).Warn("Spam check failed, falling through to rules")
		} else if verdict.IsSpam {
			mailLogger.WithFields(logrus.Fields{"score": verdict.Score, "threshold": verdict.Threshold}).Info("Mail classified as spam")
			return s.applySpamAction(account, executor, msg)
		}
	}

	rule := s.engine.FirstMatch(s.rules, account.Name, msg)
	if rule == nil {
		return false, nil
	}

	mailLogger.WithField("rule", rule.String()).Info("Applying rule action")
	return executor.Apply(rule.Action, rule.Destination, msg)
}

func (s *Synchronizer) applySpamAction(account *domain.Account, executor *action.Executor, msg *domain.MailMessage) (bool, error) {
	switch account.SpamAction {
	case domain.SpamDelete:
		return executor.Apply(domain.ActionDelete, "", msg)
	case domain.SpamMove:
		deleted, err := executor.Apply(domain.ActionMove, account.SpamFolder, msg)
		if err != nil {
			// a broken spam folder must not stall the whole account,
			// mark the mail read instead and keep scanning
			s.l.WithFields(logrus.Fields{"account": account.Name, "uid": msg.Uid, "folder": account.SpamFolder, "error": err}).Warn("Could not move spam mail, marking it read instead")
			return executor.Apply(domain.ActionMarkRead, "", msg)
		}
		return deleted, nil
	case domain.SpamMarkRead:
		return executor.Apply(domain.ActionMarkRead, "", msg)
	}
	return false, fmt.Errorf("unsupported spam action %q", account.SpamAction)
}

func (s *Synchronizer) persist(state *domain.SyncState) error {
	state.UpdatedAt = time.Now()
	err := s.store.Save(state)
	if err != nil {
		return fmt.Errorf("could not persist sync state: %w", err)
	}
	return nil
}
