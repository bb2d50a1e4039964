// SPDX-License-Identifier: GPL-3.0-or-later

// Package lockfile guards against concurrent runs against the same
// state database. Two scanners advancing the same watermark would race
// each other and double-apply actions.
package lockfile

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/mailsweep/mailsweep/log"

	"github.com/sirupsen/logrus"
)

type Lock struct {
	path string
	l    *logrus.Logger
}

// Acquire takes the lock by creating the lock file exclusively with
// the current pid as content. A leftover lock whose pid is no longer
// alive is treated as stale and replaced.
func Acquire(path string) (*Lock, error) {
	l := log.Logger(log.LOG_MAIN)

	err := tryCreate(path)
	if os.IsExist(err) {
		pid, staleErr := stalePid(path)
		if staleErr != nil {
			return nil, fmt.Errorf("already running, lock file %s held: %w", path, staleErr)
		}

		l.WithFields(logrus.Fields{"file": path, "pid": pid}).Warn("Removing stale lock file")
		removeErr := os.Remove(path)
		if removeErr != nil {
			return nil, fmt.Errorf("could not remove stale lock file: %w", removeErr)
		}
		err = tryCreate(path)
	}
	if err != nil {
		return nil, fmt.Errorf("could not create lock file: %w", err)
	}

	l.WithField("file", path).Debug("Acquired lock file")
	return &Lock{path: path, l: l}, nil
}

func (lk *Lock) Release() error {
	err := os.Remove(lk.path)
	if err != nil {
		return fmt.Errorf("could not remove lock file: %w", err)
	}

	lk.l.WithField("file", lk.path).Debug("Released lock file")
	return nil
}

func tryCreate(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = fmt.Fprintf(f, "%d\n", os.Getpid())
	if err != nil {
		return fmt.Errorf("could not write pid: %w", err)
	}
	return nil
}

// stalePid returns the pid from the lock file if that process is no
// longer alive, or an error when the lock must be respected.
func stalePid(path string) (int, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("could not read lock file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(content)))
	if err != nil {
		return 0, fmt.Errorf("lock file content %q is not a pid", strings.TrimSpace(string(content)))
	}

	if pidAlive(pid) {
		return 0, fmt.Errorf("process %d is still running", pid)
	}
	return pid, nil
}

func pidAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// signal 0 probes for existence without touching the process
	return process.Signal(syscall.Signal(0)) == nil
}
