// SPDX-License-Identifier: GPL-3.0-or-later
package domain

//go:generate mockgen -destination=mocks/capabilities.go -package=mocks . Mailbox,StateStore,SpamChecker,Sender

// Mailbox is the capability the engine consumes instead of talking IMAP
// directly. Implementations report connection, authentication and folder
// errors; the engine treats all of them as "this account failed this run".
type Mailbox interface {
	Select(folder string) (*FolderStatus, error)
	FetchRange(startUid, endUid uint32) ([]*MailMessage, error)
	AddFlags(uid uint32, flags ...string) error
	RemoveFlags(uid uint32, flags ...string) error
	Copy(uid uint32, folder string) error
	// CanMove reports whether Move is an atomic server-side operation.
	// When false, callers fall back to copy plus delete flag.
	CanMove() bool
	Move(uid uint32, folder string) error
	EnsureFolder(name string) error
	ListFolders() ([]string, error)
	Expunge() error
	Close() error
}

// StateStore persists sync watermarks. Get returns nil for an unknown
// (account, folder) pair. Implementations serialize concurrent access and
// write atomically.
type StateStore interface {
	Get(account, folder string) (*SyncState, error)
	Save(state *SyncState) error
}

// SpamChecker classifies one raw message. Any error means "classifier
// unavailable" to the caller, which must keep processing the message.
type SpamChecker interface {
	Check(rawMail []byte) (*SpamVerdict, error)
}

// Sender is the outbound transport used by the Forward action.
type Sender interface {
	Send(from string, to []string, rawMail []byte) error
}
