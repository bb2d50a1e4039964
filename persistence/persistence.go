// SPDX-License-Identifier: GPL-3.0-or-later

// Package persistence stores sync watermarks in a local sqlite database.
// The database is the single source of incremental-scan state: losing it
// is safe but forces a full rescan of every folder.
package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mailsweep/mailsweep/domain"
	"github.com/mailsweep/mailsweep/log"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rubenv/sql-migrate"
	"github.com/sirupsen/logrus"
)

var migrationSource = &migrate.MemoryMigrationSource{
	Migrations: []*migrate.Migration{
		{
			Id: "1-syncstate",
			Up: []string{
				`CREATE TABLE syncstate (
					account TEXT NOT NULL,
					folder TEXT NOT NULL,
					uidvalidity INTEGER NOT NULL,
					lastprocesseduid INTEGER NOT NULL,
					updatedat TIMESTAMP NOT NULL,
					PRIMARY KEY (account, folder)
				)`,
			},
			Down: []string{`DROP TABLE syncstate`},
		},
	},
}

type Persistence struct {
	db *sqlx.DB
	// serializes writers across account workers, sqlite has no row locks
	mu sync.Mutex
	l  *logrus.Logger
}

func NewPersistence(datasource string) (*Persistence, error) {
	db, err := sqlx.Connect("sqlite3", datasource)
	if err != nil {
		return nil, fmt.Errorf("could not open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	l := log.Logger(log.LOG_STATE)
	l.WithField("file", datasource).Info("Connected")

	_, err = db.Exec(`PRAGMA journal_mode=WAL`)
	if err != nil {
		return nil, fmt.Errorf("could not set journal mode: %w", err)
	}
	_, err = db.Exec(`PRAGMA synchronous=normal`)
	if err != nil {
		return nil, fmt.Errorf("could not set synchronous mode: %w", err)
	}

	appliedMigrations, err := migrate.Exec(db.DB, "sqlite3", migrationSource, migrate.Up)
	if err != nil {
		return nil, fmt.Errorf("could not migrate to newest version: %w", err)
	}

	l.WithField("migrations", appliedMigrations).Debug("Executed migrations")

	return &Persistence{
		db: db,
		l:  l,
	}, nil
}

func (p *Persistence) Close() error {
	err := p.db.Close()
	if err != nil {
		return fmt.Errorf("could not close db: %w", err)
	}
	p.l.Info("Disconnected")
	return nil
}

// Get returns the stored watermark for an account folder, or nil when
// the folder has never been scanned.
func (p *Persistence) Get(account, folder string) (*domain.SyncState, error) {
	dbState := struct {
		Account          string
		Folder           string
		UidValidity      uint32    `db:"uidvalidity"`
		LastProcessedUid int64     `db:"lastprocesseduid"`
		UpdatedAt        time.Time `db:"updatedat"`
	}{}

	err := p.db.Get(
		&dbState,
		`SELECT account, folder, uidvalidity, lastprocesseduid, updatedat FROM syncstate WHERE account = ? AND folder = ?`,
		account,
		folder,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not query db: %w", err)
	}

	return &domain.SyncState{
		Account:          dbState.Account,
		Folder:           dbState.Folder,
		UidValidity:      dbState.UidValidity,
		LastProcessedUid: dbState.LastProcessedUid,
		UpdatedAt:        dbState.UpdatedAt,
	}, nil
}

func (p *Persistence) Save(state *domain.SyncState) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, err := p.db.Exec(
		"INSERT OR REPLACE INTO syncstate (account, folder, uidvalidity, lastprocesseduid, updatedat) VALUES (?, ?, ?, ?, ?)",
		state.Account,
		state.Folder,
		state.UidValidity,
		state.LastProcessedUid,
		state.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("could not save sync state: %w", err)
	}

	p.l.WithFields(logrus.Fields{
		"Account":          state.Account,
		"Folder":           state.Folder,
		"UidValidity":      state.UidValidity,
		"LastProcessedUid": state.LastProcessedUid,
	}).Debug("Persisted sync state")
	return nil
}
