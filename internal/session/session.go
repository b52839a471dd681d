// Package session persists orchestrator conversation checkpoints in
// LevelDB so a named session can resume across invocations.
package session

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/haricheung/opsai/internal/types"
)

// LevelDB key scheme — "|" as separator so colons in session ids are safe.
//
//	s|<session_id> → checkpoint JSON
const prefixSession = "s|"

// checkpoint is the stored document. Entries are the full conversation
// history at save time; the whole document is rewritten on every save.
type checkpoint struct {
	SessionID string                    `json:"session_id"`
	SavedAt   string                    `json:"saved_at"`
	Entries   []types.ConversationEntry `json:"entries"`
}

// Info describes one stored session for listings.
type Info struct {
	SessionID string
	SavedAt   time.Time
	Entries   int
}

// Store is the LevelDB-backed checkpoint store. LevelDB is
// single-writer; one process owns the directory at a time.
type Store struct {
	db *leveldb.DB
}

// Open opens (or creates) the database directory at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := leveldb.OpenFile(dbPath, nil)
	if err != nil {
		return nil, fmt.Errorf("session: open %s: %w (another opsai process may hold the lock)", dbPath, err)
	}
	return &Store{db: db}, nil
}

// Close releases the database lock.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save rewrites the checkpoint for sessionID.
func (s *Store) Save(sessionID string, entries []types.ConversationEntry) error {
	if sessionID == "" {
		return fmt.Errorf("session: empty session id")
	}
	data, err := json.Marshal(checkpoint{
		SessionID: sessionID,
		SavedAt:   time.Now().UTC().Format(time.RFC3339),
		Entries:   entries,
	})
	if err != nil {
		return fmt.Errorf("session: marshal %s: %w", sessionID, err)
	}
	if err := s.db.Put([]byte(key(sessionID)), data, nil); err != nil {
		return fmt.Errorf("session: put %s: %w", sessionID, err)
	}
	return nil
}

// Load returns the stored history for sessionID. A missing session
// yields an empty history, not an error.
func (s *Store) Load(sessionID string) ([]types.ConversationEntry, error) {
	data, err := s.db.Get([]byte(key(sessionID)), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: get %s: %w", sessionID, err)
	}
	var cp checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("session: corrupt checkpoint %s: %w", sessionID, err)
	}
	return cp.Entries, nil
}

// Delete removes the checkpoint for sessionID. Deleting a missing
// session is not an error.
func (s *Store) Delete(sessionID string) error {
	if err := s.db.Delete([]byte(key(sessionID)), nil); err != nil {
		return fmt.Errorf("session: delete %s: %w", sessionID, err)
	}
	return nil
}

// List enumerates stored sessions sorted by id.
func (s *Store) List() ([]Info, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefixSession)), nil)
	defer iter.Release()

	var out []Info
	for iter.Next() {
		var cp checkpoint
		if err := json.Unmarshal(iter.Value(), &cp); err != nil {
			continue
		}
		info := Info{SessionID: cp.SessionID, Entries: len(cp.Entries)}
		if t, err := time.Parse(time.RFC3339, cp.SavedAt); err == nil {
			info.SavedAt = t
		}
		if info.SessionID == "" {
			info.SessionID = strings.TrimPrefix(string(iter.Key()), prefixSession)
		}
		out = append(out, info)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("session: iterate: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, nil
}

func key(sessionID string) string {
	return prefixSession + strings.ReplaceAll(sessionID, "|", "_")
}
