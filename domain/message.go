// SPDX-License-Identifier: GPL-3.0-or-later
package domain

// Standard IMAP system flags the engine sets or clears.
const (
	FlagSeen    = "\\Seen"
	FlagDeleted = "\\Deleted"
	FlagFlagged = "\\Flagged"
)

// MailMessage is one fetched message. Address lists hold formatted
// addresses; Raw is the full RFC822 serialization.
type MailMessage struct {
	Uid     uint32
	Subject string
	From    []string
	To      []string
	Cc      []string
	Bcc     []string
	Flags   []string
	Raw     []byte
}

// FolderStatus is what a Select reports about the chosen folder.
type FolderStatus struct {
	UidValidity      uint32
	UidNext          uint32
	SupportsKeywords bool
}

// SpamVerdict is the transient outcome of one classification call.
type SpamVerdict struct {
	IsSpam    bool
	Score     float64
	Threshold float64
	Raw       string
}
