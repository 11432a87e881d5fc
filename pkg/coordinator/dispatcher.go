package coordinator

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/tecu23/room-server/pkg/rules"
)

// Dispatcher applies moves to sessions. Everything between reading the stored position and
// committing the engine's answer happens under the session lock.
type Dispatcher struct {
	directory *Directory
	store     *Store
	engine    rules.Engine
	logger    *zap.Logger
}

// NewDispatcher creates a move dispatcher
func NewDispatcher(directory *Directory, store *Store, engine rules.Engine, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		directory: directory,
		store:     store,
		engine:    engine,
		logger:    logger,
	}
}

// Apply parses raw and submits it on behalf of id to the session key. id must be a member
// of key. On success the new position is stored and onCommit runs, still under the session
// lock, with the members to notify. On any error the stored position is untouched.
func (d *Dispatcher) Apply(
	id, key, raw string,
	onCommit func(members []string, pos rules.Position),
) (rules.Position, error) {
	move, err := rules.ParseMove(raw)
	if err != nil {
		return nil, err
	}

	var next rules.Position
	_, err = d.directory.withSession(key, false, func(s *session) error {
		if _, ok := s.members[id]; !ok {
			return fmt.Errorf("%w: %q is not a member of %q", ErrNotInSession, id, key)
		}

		pos, err := d.store.Get(key)
		if err != nil {
			return err
		}

		next, err = d.engine.Move(pos, move)
		if err != nil {
			return err
		}

		if err := d.store.Save(key, next); err != nil {
			return err
		}

		if onCommit != nil {
			onCommit(s.memberIDs(), next)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	d.logger.Debug("move committed",
		zap.String("client_id", id),
		zap.String("session", key),
		zap.String("move", move.String()))

	return next, nil
}

// State returns the serialized position of key
func (d *Dispatcher) State(key string) (string, rules.Status, error) {
	var (
		fen    string
		status rules.Status
	)

	_, err := d.directory.withSession(key, false, func(_ *session) error {
		pos, err := d.store.Get(key)
		if err != nil {
			return err
		}

		fen = d.engine.Serialize(pos)
		status = d.engine.Status(pos)
		return nil
	})

	return fen, status, err
}
