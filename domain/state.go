// SPDX-License-Identifier: GPL-3.0-or-later
package domain

import "time"

// SyncState is the durable watermark for one (account, folder) pair.
// LastProcessedUid is inclusive; 0 means no message has been processed in
// the current UIDVALIDITY epoch.
type SyncState struct {
	Account          string
	Folder           string
	UidValidity      uint32
	LastProcessedUid int64
	UpdatedAt        time.Time
}

func StateKey(account, folder string) string {
	return account + ":" + folder
}

// RefreshValidity adopts a new UIDVALIDITY epoch. When the epoch changed,
// all previously recorded UIDs are meaningless and the watermark is reset.
// Reports whether a reset happened.
func (s *SyncState) RefreshValidity(uidValidity uint32) bool {
	if s.UidValidity == uidValidity {
		return false
	}
	s.UidValidity = uidValidity
	s.LastProcessedUid = 0
	return true
}

// ShouldProcess reports whether a message may be acted upon: never twice
// under the same epoch, never based on a stale epoch.
func (s *SyncState) ShouldProcess(uid int64, uidValidity uint32) bool {
	if s.UidValidity != uidValidity {
		return false
	}
	return uid > s.LastProcessedUid
}
