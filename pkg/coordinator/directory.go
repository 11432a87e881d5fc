package coordinator

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tecu23/room-server/pkg/rules"
)

// MaxSessionKeyLen bounds client supplied session keys.
const MaxSessionKeyLen = 64

// session is one game room. mu linearizes every change to members and to the session's
// entry in the Store.
type session struct {
	key string

	mu        sync.Mutex
	members   map[string]struct{}
	idleSince time.Time // set when the last member leaves under a retention policy
	reclaimed bool
}

func (s *session) memberIDs() []string {
	ids := make([]string, 0, len(s.members))
	for id := range s.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids
}

// Directory maps clients to session keys and session keys to member sets. It creates
// sessions on first use and reclaims them once empty.
//
// The directory lock only guards the two maps and is never held while waiting for a
// session lock, so work on one session never stalls another.
type Directory struct {
	mu       sync.Mutex
	sessions map[string]*session
	index    map[string]string // client id -> session key

	store     *Store
	engine    rules.Engine
	retention time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewDirectory creates an empty directory. A zero retention reclaims a session as soon as its
// last member leaves; otherwise empty sessions stay dormant until Reap finds them older than
// retention.
func NewDirectory(store *Store, engine rules.Engine, retention time.Duration, logger *zap.Logger) *Directory {
	return &Directory{
		sessions:  make(map[string]*session),
		index:     make(map[string]string),
		store:     store,
		engine:    engine,
		retention: retention,
		now:       time.Now,
		logger:    logger,
	}
}

// ValidateSessionKey rejects empty and oversized keys.
func ValidateSessionKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: key is empty", ErrInvalidSessionKey)
	}

	if len(key) > MaxSessionKeyLen {
		return fmt.Errorf("%w: key longer than %d bytes", ErrInvalidSessionKey, MaxSessionKeyLen)
	}

	return nil
}

// withSession runs fn under the lock of the session for key. With create set, an unseen
// key gets a new session and a fresh game first. It reports whether the session was created.
func (d *Directory) withSession(key string, create bool, fn func(s *session) error) (bool, error) {
	for {
		created := false

		d.mu.Lock()
		s, ok := d.sessions[key]
		if !ok {
			if !create {
				d.mu.Unlock()
				return false, fmt.Errorf("%w: %q", ErrUnknownSession, key)
			}

			if err := d.store.Create(key, d.engine.New()); err != nil {
				d.mu.Unlock()
				return false, err
			}

			s = &session{key: key, members: make(map[string]struct{})}
			d.sessions[key] = s
			created = true
		}
		d.mu.Unlock()

		s.mu.Lock()
		if s.reclaimed {
			// lost a race with reclamation; the entry is already gone from the map
			s.mu.Unlock()
			continue
		}

		err := fn(s)
		s.mu.Unlock()

		return created, err
	}
}

// Join associates id with key, creating the session on first use. onJoined runs under the
// session lock with the member list and current position, before any other event for the
// session can interleave. It returns whether the session was created.
//
// The caller must have removed id from any other session first.
func (d *Directory) Join(
	id, key string,
	onJoined func(members []string, pos rules.Position),
) (bool, error) {
	if err := ValidateSessionKey(key); err != nil {
		return false, err
	}

	created, err := d.withSession(key, true, func(s *session) error {
		pos, err := d.store.Get(key)
		if err != nil {
			return err
		}

		s.members[id] = struct{}{}
		s.idleSince = time.Time{}

		d.mu.Lock()
		d.index[id] = key
		d.mu.Unlock()

		if onJoined != nil {
			onJoined(s.memberIDs(), pos)
		}

		return nil
	})
	if err != nil {
		return false, err
	}

	d.logger.Debug("client joined session",
		zap.String("client_id", id),
		zap.String("session", key),
		zap.Bool("created", created))

	return created, nil
}

// SessionOf returns the session key id belongs to
func (d *Directory) SessionOf(id string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key, ok := d.index[id]
	return key, ok
}

// Leave removes id from its session. It returns the key it left and whether that session
// was reclaimed as a result. Unknown ids are ignored.
func (d *Directory) Leave(id string) (string, bool) {
	d.mu.Lock()
	key, ok := d.index[id]
	delete(d.index, id)
	s := d.sessions[key]
	d.mu.Unlock()

	if !ok || s == nil {
		return key, false
	}

	reclaim := false

	s.mu.Lock()
	delete(s.members, id)
	if len(s.members) == 0 && !s.reclaimed {
		if d.retention <= 0 {
			s.reclaimed = true
			reclaim = true
			d.drop(s)
		} else {
			s.idleSince = d.now()
		}
	}
	s.mu.Unlock()

	d.logger.Debug("client left session",
		zap.String("client_id", id),
		zap.String("session", key),
		zap.Bool("reclaimed", reclaim))

	return key, reclaim
}

// Reap reclaims every empty session that has been idle for at least the retention period.
func (d *Directory) Reap(now time.Time) []string {
	if d.retention <= 0 {
		return nil
	}

	d.mu.Lock()
	candidates := make([]*session, 0, len(d.sessions))
	for _, s := range d.sessions {
		candidates = append(candidates, s)
	}
	d.mu.Unlock()

	var reaped []string
	for _, s := range candidates {
		s.mu.Lock()
		expired := !s.reclaimed &&
			len(s.members) == 0 &&
			!s.idleSince.IsZero() &&
			now.Sub(s.idleSince) >= d.retention
		if expired {
			s.reclaimed = true
			d.drop(s)
			reaped = append(reaped, s.key)
		}
		s.mu.Unlock()
	}

	return reaped
}

// drop removes a session already marked reclaimed, together with its game. Called with the
// session lock held, so a caller that later finds the session reclaimed also finds it gone
// from the map.
func (d *Directory) drop(s *session) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sessions[s.key] == s {
		delete(d.sessions, s.key)
		d.store.Delete(s.key)
	}
}

// Members returns the sorted member ids of key
func (d *Directory) Members(key string) ([]string, error) {
	var ids []string
	_, err := d.withSession(key, false, func(s *session) error {
		ids = s.memberIDs()
		return nil
	})

	return ids, err
}

// Len returns the number of sessions, dormant ones included
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.sessions)
}
