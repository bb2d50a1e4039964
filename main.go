// SPDX-License-Identifier: GPL-3.0-or-later
package main

import (
	"time"

	"github.com/mailsweep/mailsweep/config"
	"github.com/mailsweep/mailsweep/domain"
	"github.com/mailsweep/mailsweep/imapconnection"
	"github.com/mailsweep/mailsweep/lockfile"
	"github.com/mailsweep/mailsweep/log"
	"github.com/mailsweep/mailsweep/mailsync"
	"github.com/mailsweep/mailsweep/persistence"
	"github.com/mailsweep/mailsweep/smtpsend"
	"github.com/mailsweep/mailsweep/spamc"

	"github.com/sirupsen/logrus"
)

func main() {
	log.InitLogging("info")
	logger := log.Logger(log.LOG_MAIN)

	conf, err := config.ReadConfig("config.toml")
	if err != nil {
		logger.WithField("error", err).Fatal("Could not load config")
	}

	if conf.Loglevel != nil {
		log.SetLogLevel(*conf.Loglevel)
	}

	lock, err := lockfile.Acquire(conf.LockFile)
	if err != nil {
		logger.WithField("error", err).Fatal("Another instance appears to be running")
	}
	defer func() {
		err := lock.Release()
		if err != nil {
			logger.WithField("error", err).Warn("Could not release lock file")
		}
	}()

	p, err := persistence.NewPersistence(conf.Database)
	if err != nil {
		logger.WithField("error", err).Fatal("Could not connect to database")
	}
	defer p.Close()

	var spamChecker domain.SpamChecker
	if anySpamFiltering(conf.Accounts()) {
		client := spamc.NewClient(
			conf.Spamd.Host,
			conf.Spamd.Port,
			conf.Spamd.User,
			time.Duration(conf.Spamd.ConnectTimeoutMillis)*time.Millisecond,
			time.Duration(conf.Spamd.ReadTimeoutMillis)*time.Millisecond,
		)
		err = client.Ping()
		if err != nil {
			logger.WithFields(logrus.Fields{"host": conf.Spamd.Host, "port": conf.Spamd.Port, "error": err}).Fatal("Spamd is not reachable")
		}
		spamChecker = client
	}

	var sender domain.Sender
	if conf.Smtp.Host != "" {
		sender = smtpsend.NewSmtpSender(conf.Smtp.Host, conf.Smtp.Port, conf.Smtp.Username, conf.Smtp.Password)
	}

	connect := func(account *domain.Account) (domain.Mailbox, error) {
		return imapconnection.NewImapConnection(account)
	}

	synchronizer := mailsync.NewSynchronizer(connect, p, spamChecker, sender, conf.Smtp.From, conf.Rules())

	workers := mailsync.Workers(len(conf.Accounts()), conf.SingleThread)
	scheduler := mailsync.NewScheduler(synchronizer, workers)

	// account-level failures are already logged per account and must not
	// turn a partially successful scan into a non-zero exit
	err = scheduler.Run(conf.Accounts())
	if err != nil {
		logger.WithField("error", err).Warn("Scan finished with failures")
	}
}

func anySpamFiltering(accounts []*domain.Account) bool {
	for _, a := range accounts {
		if a.UseSpamFilter {
			return true
		}
	}
	return false
}
