// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2025 Canonical Ltd
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 3 as
 * published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

// Package journal keeps the history of each physical connection in a
// bbolt database.
package journal

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	sessionsBucket = []byte("sessions")
	eventsBucket   = []byte("events")
	metaKey        = []byte("meta")
)

// ErrUnknownSession is returned for sessions not in the journal.
var ErrUnknownSession = errors.New("unknown session")

var timeNow = time.Now

// Event is one journal entry.
type Event struct {
	Time   time.Time `json:"time"`
	Kind   string    `json:"kind"`
	Detail string    `json:"detail,omitempty"`
}

// Session summarizes one physical connection.
type Session struct {
	ID      string    `json:"id"`
	Started time.Time `json:"started"`
	Updated time.Time `json:"updated"`
	Events  int       `json:"events"`
	Last    string    `json:"last"`
}

type meta struct {
	Started time.Time `json:"started"`
	Updated time.Time `json:"updated"`
	Last    string    `json:"last"`
}

// Journal is safe for concurrent use.
type Journal struct {
	db *bolt.DB
}

// Open opens or creates the journal at path.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("cannot create journal directory: %v", err)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("cannot open journal: %v", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("cannot initialize journal: %v", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func seqKey(n uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	return b[:]
}

// Record appends an event to session, creating the session on first
// use.
func (j *Journal) Record(session, kind, detail string) error {
	if session == "" {
		return fmt.Errorf("cannot record %s without a session", kind)
	}
	now := timeNow()
	return j.db.Update(func(tx *bolt.Tx) error {
		sb, err := tx.Bucket(sessionsBucket).CreateBucketIfNotExists([]byte(session))
		if err != nil {
			return err
		}
		eb, err := sb.CreateBucketIfNotExists(eventsBucket)
		if err != nil {
			return err
		}

		m := meta{Started: now}
		if raw := sb.Get(metaKey); raw != nil {
			if err := json.Unmarshal(raw, &m); err != nil {
				return fmt.Errorf("invalid session %s: %v", session, err)
			}
		}
		m.Updated = now
		m.Last = kind
		raw, err := json.Marshal(m)
		if err != nil {
			return err
		}
		if err := sb.Put(metaKey, raw); err != nil {
			return err
		}

		seq, err := eb.NextSequence()
		if err != nil {
			return err
		}
		ev, err := json.Marshal(Event{Time: now, Kind: kind, Detail: detail})
		if err != nil {
			return err
		}
		return eb.Put(seqKey(seq), ev)
	})
}

// Sessions returns all sessions, oldest first.
func (j *Journal) Sessions() ([]Session, error) {
	var out []Session
	err := j.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).ForEachBucket(func(id []byte) error {
			s, err := readSession(tx.Bucket(sessionsBucket).Bucket(id), string(id))
			if err != nil {
				return err
			}
			out = append(out, s)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, k int) bool { return out[i].Started.Before(out[k].Started) })
	return out, nil
}

func readSession(sb *bolt.Bucket, id string) (Session, error) {
	var m meta
	if err := json.Unmarshal(sb.Get(metaKey), &m); err != nil {
		return Session{}, fmt.Errorf("invalid session %s: %v", id, err)
	}
	s := Session{ID: id, Started: m.Started, Updated: m.Updated, Last: m.Last}
	if eb := sb.Bucket(eventsBucket); eb != nil {
		s.Events = eb.Stats().KeyN
	}
	return s, nil
}

// Session returns the summary of one session.
func (j *Journal) Session(id string) (Session, error) {
	var s Session
	err := j.db.View(func(tx *bolt.Tx) error {
		sb := tx.Bucket(sessionsBucket).Bucket([]byte(id))
		if sb == nil {
			return fmt.Errorf("%w %q", ErrUnknownSession, id)
		}
		var err error
		s, err = readSession(sb, id)
		return err
	})
	return s, err
}

// Events returns the events of a session in the order they happened.
func (j *Journal) Events(id string) ([]Event, error) {
	var out []Event
	err := j.db.View(func(tx *bolt.Tx) error {
		sb := tx.Bucket(sessionsBucket).Bucket([]byte(id))
		if sb == nil {
			return fmt.Errorf("%w %q", ErrUnknownSession, id)
		}
		eb := sb.Bucket(eventsBucket)
		if eb == nil {
			return nil
		}
		return eb.ForEach(func(k, v []byte) error {
			var ev Event
			if err := json.Unmarshal(v, &ev); err != nil {
				return fmt.Errorf("invalid event in session %s: %v", id, err)
			}
			out = append(out, ev)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Prune removes the oldest sessions so that at most keep remain.
func (j *Journal) Prune(keep int) (removed int, err error) {
	sessions, err := j.Sessions()
	if err != nil {
		return 0, err
	}
	if len(sessions) <= keep {
		return 0, nil
	}
	old := sessions[:len(sessions)-keep]
	err = j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		for _, s := range old {
			if err := b.DeleteBucket([]byte(s.ID)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(old), nil
}
