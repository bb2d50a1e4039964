// SPDX-License-Identifier: GPL-3.0-or-later
package domain

import (
	"fmt"
	"strings"
)

// SpamAction is what happens to a message the classifier flags as spam.
type SpamAction string

const (
	SpamDelete   = SpamAction("delete")
	SpamMove     = SpamAction("move")
	SpamMarkRead = SpamAction("markread")
)

func ParseSpamAction(s string) (SpamAction, error) {
	switch normalizeToken(s) {
	case "delete", "del", "remove":
		return SpamDelete, nil
	case "move", "move_to_folder", "movetofolder":
		return SpamMove, nil
	case "markread", "mark_read", "read", "markasread", "mark_as_read":
		return SpamMarkRead, nil
	}
	return "", fmt.Errorf("unknown spam action %q", s)
}

// Account describes one IMAP mailbox to scan. Immutable for the duration
// of a scheduler run; Name is the unique key rules refer to.
type Account struct {
	Name        string
	Host        string
	Port        int
	Username    string
	Password    string
	SSL         bool
	InboxFolder string

	UseSpamFilter bool
	SpamAction    SpamAction
	SpamFolder    string
}

func (a *Account) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

func normalizeToken(s string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
}
