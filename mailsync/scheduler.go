// SPDX-License-Identifier: GPL-3.0-or-later
package mailsync

import (
	"fmt"
	"runtime"

	"github.com/mailsweep/mailsweep/domain"
	"github.com/mailsweep/mailsweep/log"

	"github.com/sirupsen/logrus"
)

const maxWorkers = 8

// Workers sizes the account worker pool. There is never a point in
// more workers than accounts, and IMAP scanning saturates well below
// one worker per core on large machines.
func Workers(accountCount int, singleThread bool) int {
	if singleThread {
		return 1
	}

	workers := runtime.NumCPU()
	if workers > maxWorkers {
		workers = maxWorkers
	}
	if workers > accountCount {
		workers = accountCount
	}
	if workers < 1 {
		workers = 1
	}
	return workers
}

type Scheduler struct {
	synchronizer *Synchronizer
	workers      int

	l *logrus.Logger
}

func NewScheduler(synchronizer *Synchronizer, workers int) *Scheduler {
	return &Scheduler{
		synchronizer: synchronizer,
		workers:      workers,
		l:            log.Logger(log.LOG_SYNC),
	}
}

// Run scans all accounts with bounded concurrency. A failing account
// is logged and never stops the others, the error only reports the
// overall outcome.
func (s *Scheduler) Run(accounts []*domain.Account) error {
	s.l.WithFields(logrus.Fields{"accounts": len(accounts), "workers": s.workers}).Info("Starting scan")

	semaphore := make(chan bool, s.workers)
	errs := make([]error, len(accounts))
	for i := 0; i < len(accounts); i++ {
		semaphore <- true
		go func(index int) {
			account := accounts[index]
			errs[index] = s.synchronizer.SyncAccount(account)
			if errs[index] != nil {
				s.l.WithFields(logrus.Fields{"account": account.Name, "error": errs[index]}).Error("Account scan failed")
			}
			<-semaphore
		}(i)
	}

	for i := 0; i < s.workers; i++ {
		semaphore <- true
	}

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d accounts failed", failed, len(accounts))
	}

	s.l.Info("Scan complete")
	return nil
}
