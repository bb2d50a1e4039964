// SPDX-License-Identifier: GPL-3.0-or-later
package mailsync

import (
	"fmt"
	"testing"

	"github.com/mailsweep/mailsweep/domain"
	"github.com/mailsweep/mailsweep/log"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.InitLogging("error")
}

type fetchCall struct {
	start, end uint32
}

type fakeMailbox struct {
	status *domain.FolderStatus
	mails  []*domain.MailMessage

	fetches  []fetchCall
	flagged  map[uint32][]string
	unflag   map[uint32][]string
	copies   map[uint32][]string
	moves    map[uint32][]string
	ensured  []string
	expunged int
	closed   bool

	canMove   bool
	failFlags map[uint32]error
	failCopy  map[uint32]error
}

func newMailboxFake(status *domain.FolderStatus, mails ...*domain.MailMessage) *fakeMailbox {
	return &fakeMailbox{
		status:  status,
		mails:   mails,
		flagged: map[uint32][]string{},
		unflag:  map[uint32][]string{},
		copies:  map[uint32][]string{},
		moves:   map[uint32][]string{},
	}
}

func (m *fakeMailbox) Select(folder string) (*domain.FolderStatus, error) {
	return m.status, nil
}

func (m *fakeMailbox) FetchRange(startUid, endUid uint32) ([]*domain.MailMessage, error) {
	m.fetches = append(m.fetches, fetchCall{start: startUid, end: endUid})

	selected := []*domain.MailMessage{}
	for _, msg := range m.mails {
		if msg.Uid >= startUid && msg.Uid <= endUid {
			selected = append(selected, msg)
		}
	}
	return selected, nil
}

func (m *fakeMailbox) AddFlags(uid uint32, flags ...string) error {
	if err := m.failFlags[uid]; err != nil {
		return err
	}
	m.flagged[uid] = append(m.flagged[uid], flags...)
	return nil
}

func (m *fakeMailbox) RemoveFlags(uid uint32, flags ...string) error {
	m.unflag[uid] = append(m.unflag[uid], flags...)
	return nil
}

func (m *fakeMailbox) Copy(uid uint32, folder string) error {
	if err := m.failCopy[uid]; err != nil {
		return err
	}
	m.copies[uid] = append(m.copies[uid], folder)
	return nil
}

func (m *fakeMailbox) CanMove() bool { return m.canMove }

func (m *fakeMailbox) Move(uid uint32, folder string) error {
	m.moves[uid] = append(m.moves[uid], folder)
	return nil
}

func (m *fakeMailbox) EnsureFolder(name string) error {
	m.ensured = append(m.ensured, name)
	return nil
}

func (m *fakeMailbox) ListFolders() ([]string, error) { return nil, nil }
func (m *fakeMailbox) Expunge() error                 { m.expunged++; return nil }
func (m *fakeMailbox) Close() error                   { m.closed = true; return nil }

type memStore struct {
	states map[string]*domain.SyncState
	saves  int
}

func newMemStore() *memStore {
	return &memStore{states: map[string]*domain.SyncState{}}
}

func (s *memStore) Get(account, folder string) (*domain.SyncState, error) {
	state, ok := s.states[domain.StateKey(account, folder)]
	if !ok {
		return nil, nil
	}
	copied := *state
	return &copied, nil
}

func (s *memStore) Save(state *domain.SyncState) error {
	copied := *state
	s.states[domain.StateKey(state.Account, state.Folder)] = &copied
	s.saves++
	return nil
}

func (s *memStore) watermark(account, folder string) int64 {
	state := s.states[domain.StateKey(account, folder)]
	if state == nil {
		return -1
	}
	return state.LastProcessedUid
}

type fakeChecker struct {
	spamUids map[uint32]bool
	err      error
	checks   int
}

func (c *fakeChecker) Check(rawMail []byte) (*domain.SpamVerdict, error) {
	c.checks++
	if c.err != nil {
		return nil, c.err
	}
	// raw body carries the uid as its only content in these tests
	uid := uint32(0)
	fmt.Sscanf(string(rawMail), "uid=%d", &uid)
	return &domain.SpamVerdict{IsSpam: c.spamUids[uid], Score: 7.5, Threshold: 5}, nil
}

func account(name string) *domain.Account {
	return &domain.Account{
		Name:        name,
		Host:        "imap.example.com",
		Port:        993,
		Username:    "u",
		Password:    "p",
		SSL:         true,
		InboxFolder: "INBOX",
	}
}

func spamAccount(name string, spamAction domain.SpamAction, spamFolder string) *domain.Account {
	a := account(name)
	a.UseSpamFilter = true
	a.SpamAction = spamAction
	a.SpamFolder = spamFolder
	return a
}

func mail(uid uint32, subject string) *domain.MailMessage {
	return &domain.MailMessage{
		Uid:     uid,
		Subject: subject,
		Raw:     []byte(fmt.Sprintf("uid=%d", uid)),
	}
}

func connectTo(mb *fakeMailbox) ConnectFunc {
	return func(account *domain.Account) (domain.Mailbox, error) {
		return mb, nil
	}
}

func TestScanFetchesOnlyAboveWatermark(t *testing.T) {
	mb := newMailboxFake(
		&domain.FolderStatus{UidValidity: 10, UidNext: 9},
		mail(6, "a"), mail(7, "b"), mail(8, "c"),
	)
	store := newMemStore()
	require.NoError(t, store.Save(&domain.SyncState{
		Account: "acct", Folder: "INBOX", UidValidity: 10, LastProcessedUid: 5,
	}))
	store.saves = 0

	s := NewSynchronizer(connectTo(mb), store, nil, nil, "", nil)
	require.NoError(t, s.SyncAccount(account("acct")))

	require.Len(t, mb.fetches, 1)
	assert.Equal(t, fetchCall{start: 6, end: 8}, mb.fetches[0])
	assert.Equal(t, int64(8), store.watermark("acct", "INBOX"))
	assert.Equal(t, 1, store.saves)
	assert.True(t, mb.closed)
}

func TestFirstScanStartsAtOne(t *testing.T) {
	mb := newMailboxFake(
		&domain.FolderStatus{UidValidity: 10, UidNext: 4},
		mail(1, "a"), mail(3, "b"),
	)
	store := newMemStore()

	s := NewSynchronizer(connectTo(mb), store, nil, nil, "", nil)
	require.NoError(t, s.SyncAccount(account("acct")))

	require.Len(t, mb.fetches, 1)
	assert.Equal(t, fetchCall{start: 1, end: 3}, mb.fetches[0])
	assert.Equal(t, int64(3), store.watermark("acct", "INBOX"))
}

func TestUidValidityChangeRescansFolder(t *testing.T) {
	mb := newMailboxFake(
		&domain.FolderStatus{UidValidity: 11, UidNext: 3},
		mail(1, "a"), mail(2, "b"),
	)
	store := newMemStore()
	require.NoError(t, store.Save(&domain.SyncState{
		Account: "acct", Folder: "INBOX", UidValidity: 10, LastProcessedUid: 50,
	}))

	s := NewSynchronizer(connectTo(mb), store, nil, nil, "", nil)
	require.NoError(t, s.SyncAccount(account("acct")))

	require.Len(t, mb.fetches, 1)
	assert.Equal(t, fetchCall{start: 1, end: 2}, mb.fetches[0])

	state := store.states[domain.StateKey("acct", "INBOX")]
	require.NotNil(t, state)
	assert.Equal(t, uint32(11), state.UidValidity)
	assert.Equal(t, int64(2), state.LastProcessedUid)
}

func TestNoNewMailsStillPersistsState(t *testing.T) {
	mb := newMailboxFake(&domain.FolderStatus{UidValidity: 10, UidNext: 6})
	store := newMemStore()
	require.NoError(t, store.Save(&domain.SyncState{
		Account: "acct", Folder: "INBOX", UidValidity: 10, LastProcessedUid: 5,
	}))
	store.saves = 0

	s := NewSynchronizer(connectTo(mb), store, nil, nil, "", nil)
	require.NoError(t, s.SyncAccount(account("acct")))

	assert.Empty(t, mb.fetches)
	assert.Equal(t, 1, store.saves)
	assert.Equal(t, int64(5), store.watermark("acct", "INBOX"))
}

func TestSecondPassIsIdempotent(t *testing.T) {
	mb := newMailboxFake(
		&domain.FolderStatus{UidValidity: 10, UidNext: 9},
		mail(6, "a"), mail(7, "b"), mail(8, "c"),
	)
	store := newMemStore()

	s := NewSynchronizer(connectTo(mb), store, nil, nil, "", nil)
	require.NoError(t, s.SyncAccount(account("acct")))
	require.NoError(t, s.SyncAccount(account("acct")))

	// second pass finds nothing below uidnext left to fetch
	assert.Len(t, mb.fetches, 1)
	assert.Equal(t, int64(8), store.watermark("acct", "INBOX"))
}

func TestSpamMoveWinsOverRules(t *testing.T) {
	mb := newMailboxFake(
		&domain.FolderStatus{UidValidity: 10, UidNext: 3},
		mail(1, "cheap pills"), mail(2, "normal mail"),
	)
	store := newMemStore()
	checker := &fakeChecker{spamUids: map[uint32]bool{1: true}}

	// the rule would also hit the spam mail if it were evaluated
	deleteAll := &domain.Rule{
		Account: "acct", Field: domain.FieldSubject, Operator: domain.OpContains,
		Value: "pills", Action: domain.ActionDelete,
	}

	s := NewSynchronizer(connectTo(mb), store, checker, nil, "", []*domain.Rule{deleteAll})
	require.NoError(t, s.SyncAccount(spamAccount("acct", domain.SpamMove, "Junk")))

	assert.Equal(t, 2, checker.checks)
	assert.Equal(t, []string{"Junk"}, mb.ensured)
	assert.Equal(t, []string{"Junk"}, mb.copies[1])
	assert.Equal(t, []string{domain.FlagDeleted}, mb.flagged[1])
	// the delete rule never ran against the spam mail
	assert.Empty(t, mb.flagged[2])
	assert.Equal(t, 1, mb.expunged)
	assert.Equal(t, int64(2), store.watermark("acct", "INBOX"))
}

func TestSpamMoveFailureMarksReadAndContinues(t *testing.T) {
	mb := newMailboxFake(
		&domain.FolderStatus{UidValidity: 10, UidNext: 3},
		mail(1, "cheap pills"), mail(2, "normal mail"),
	)
	mb.failCopy = map[uint32]error{1: fmt.Errorf("copy refused")}
	store := newMemStore()
	checker := &fakeChecker{spamUids: map[uint32]bool{1: true}}

	s := NewSynchronizer(connectTo(mb), store, checker, nil, "", nil)
	require.NoError(t, s.SyncAccount(spamAccount("acct", domain.SpamMove, "Junk")))

	// the unmovable spam mail is marked read and the pass keeps going
	assert.Equal(t, []string{domain.FlagSeen}, mb.flagged[1])
	assert.Equal(t, 2, checker.checks)
	assert.Equal(t, int64(2), store.watermark("acct", "INBOX"))
	assert.Equal(t, 0, mb.expunged)
}

func TestSpamDelete(t *testing.T) {
	mb := newMailboxFake(
		&domain.FolderStatus{UidValidity: 10, UidNext: 2},
		mail(1, "spam"),
	)
	store := newMemStore()
	checker := &fakeChecker{spamUids: map[uint32]bool{1: true}}

	s := NewSynchronizer(connectTo(mb), store, checker, nil, "", nil)
	require.NoError(t, s.SyncAccount(spamAccount("acct", domain.SpamDelete, "")))

	assert.Equal(t, []string{domain.FlagDeleted}, mb.flagged[1])
	assert.Equal(t, 1, mb.expunged)
}

func TestSpamMarkRead(t *testing.T) {
	mb := newMailboxFake(
		&domain.FolderStatus{UidValidity: 10, UidNext: 2},
		mail(1, "spam"),
	)
	store := newMemStore()
	checker := &fakeChecker{spamUids: map[uint32]bool{1: true}}

	s := NewSynchronizer(connectTo(mb), store, checker, nil, "", nil)
	require.NoError(t, s.SyncAccount(spamAccount("acct", domain.SpamMarkRead, "")))

	assert.Equal(t, []string{domain.FlagSeen}, mb.flagged[1])
	assert.Equal(t, 0, mb.expunged)
	assert.Equal(t, int64(1), store.watermark("acct", "INBOX"))
}

func TestClassifierFailureFallsThroughToRules(t *testing.T) {
	mb := newMailboxFake(
		&domain.FolderStatus{UidValidity: 10, UidNext: 2},
		mail(1, "cheap pills"),
	)
	store := newMemStore()
	checker := &fakeChecker{err: fmt.Errorf("spamd down")}

	deleteRule := &domain.Rule{
		Account: "acct", Field: domain.FieldSubject, Operator: domain.OpContains,
		Value: "pills", Action: domain.ActionDelete,
	}

	s := NewSynchronizer(connectTo(mb), store, checker, nil, "", []*domain.Rule{deleteRule})
	require.NoError(t, s.SyncAccount(spamAccount("acct", domain.SpamDelete, "")))

	// rule still applied and the watermark still advanced
	assert.Equal(t, []string{domain.FlagDeleted}, mb.flagged[1])
	assert.Equal(t, int64(1), store.watermark("acct", "INBOX"))
}

func TestRuleMatchAppliesFirstRuleOnly(t *testing.T) {
	mb := newMailboxFake(
		&domain.FolderStatus{UidValidity: 10, UidNext: 2},
		mail(1, "invoice"),
	)
	store := newMemStore()

	moveRule := &domain.Rule{
		Account: "acct", Field: domain.FieldSubject, Operator: domain.OpContains,
		Value: "invoice", Action: domain.ActionMove, Destination: "Invoices",
	}
	deleteRule := &domain.Rule{
		Account: "acct", Field: domain.FieldSubject, Operator: domain.OpContains,
		Value: "invoice", Action: domain.ActionDelete,
	}

	s := NewSynchronizer(connectTo(mb), store, nil, nil, "", []*domain.Rule{moveRule, deleteRule})
	require.NoError(t, s.SyncAccount(account("acct")))

	assert.Equal(t, []string{"Invoices"}, mb.copies[1])
	assert.Equal(t, []string{domain.FlagDeleted}, mb.flagged[1])
}

func TestActionFailurePersistsProgress(t *testing.T) {
	mb := newMailboxFake(
		&domain.FolderStatus{UidValidity: 10, UidNext: 4},
		mail(1, "delete me"), mail(2, "delete me"), mail(3, "delete me"),
	)
	mb.failFlags = map[uint32]error{2: fmt.Errorf("server said no")}
	store := newMemStore()

	deleteRule := &domain.Rule{
		Account: "acct", Field: domain.FieldSubject, Operator: domain.OpContains,
		Value: "delete", Action: domain.ActionDelete,
	}

	s := NewSynchronizer(connectTo(mb), store, nil, nil, "", []*domain.Rule{deleteRule})
	err := s.SyncAccount(account("acct"))
	require.Error(t, err)

	// the failed mail stays above the watermark and is retried next pass
	assert.Equal(t, int64(1), store.watermark("acct", "INBOX"))
}
