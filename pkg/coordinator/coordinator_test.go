package coordinator

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/corentings/chess/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/tecu23/room-server/pkg/events"
	"github.com/tecu23/room-server/pkg/messages"
	"github.com/tecu23/room-server/pkg/rules"
)

func TestCoordinator_Connect_AnnouncesToEveryone(t *testing.T) {
	c := newChessCoordinator(t, Options{})

	x := connect(c, "X")
	y := connect(c, "Y")

	assert.Len(t, x.events(messages.EventNewConnection), 2)
	assert.Len(t, y.events(messages.EventNewConnection), 1)
	assert.JSONEq(t, `{"id":"Y"}`, string(y.events(messages.EventNewConnection)[0].Payload))
	assert.Equal(t, 2, c.Stats().Connections)

	// idempotent
	c.Connect("X", x)
	assert.Equal(t, 2, c.Stats().Connections)
	assert.Len(t, y.events(messages.EventNewConnection), 1)
}

// Scenario A: a joiner sees the initial position and every member sees accepted moves.
func TestCoordinator_JoinAndMove(t *testing.T) {
	c := newChessCoordinator(t, Options{})
	x := connect(c, "X")

	fen, err := c.JoinSession("X", "R1")
	require.NoError(t, err)
	assert.Equal(t, startFEN, fen)

	ups := x.updates(t)
	require.Len(t, ups, 1)
	assert.Equal(t, "R1", ups[0].Session)
	assert.Equal(t, startFEN, ups[0].Position)
	assert.Equal(t, "w", ups[0].Turn)

	fen, err = c.Move("X", "e2e4")
	require.NoError(t, err)
	assert.Contains(t, fen, "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b")

	ups = x.updates(t)
	require.Len(t, ups, 2)
	assert.Equal(t, fen, ups[1].Position)
	assert.Equal(t, "e2e4", ups[1].LastMove)
	assert.Equal(t, "b", ups[1].Turn)

	key, ok := c.SessionOf("X")
	assert.True(t, ok)
	assert.Equal(t, "R1", key)
}

// Scenario B: a late joiner starts from the current position.
func TestCoordinator_LateJoinerSeesCurrentPosition(t *testing.T) {
	c := newChessCoordinator(t, Options{})
	x := connect(c, "X")
	y := connect(c, "Y")

	_, err := c.JoinSession("X", "R1")
	require.NoError(t, err)
	afterMove, err := c.Move("X", "e2e4")
	require.NoError(t, err)

	fen, err := c.JoinSession("Y", "R1")
	require.NoError(t, err)
	assert.Equal(t, afterMove, fen)

	ups := y.updates(t)
	require.Len(t, ups, 1)
	assert.Equal(t, afterMove, ups[0].Position)

	// X is told about the join too
	assert.Len(t, x.updates(t), 3)

	members, err := c.Members("R1")
	require.NoError(t, err)
	assert.Equal(t, []string{"X", "Y"}, members)
}

// Scenario C: an illegal first move changes nothing and is not broadcast.
func TestCoordinator_IllegalMove(t *testing.T) {
	c := newChessCoordinator(t, Options{})
	x := connect(c, "X")
	y := connect(c, "Y")
	_, err := c.JoinSession("X", "R1")
	require.NoError(t, err)
	_, err = c.JoinSession("Y", "R1")
	require.NoError(t, err)
	x.reset()
	y.reset()

	_, err = c.Move("X", "e2e5")
	require.ErrorIs(t, err, ErrIllegalMove)
	assert.Equal(t, ReasonIllegalMove, ReasonOf(err))

	assert.Empty(t, x.updates(t))
	assert.Empty(t, y.updates(t))

	board, err := c.Board("Y")
	require.NoError(t, err)
	assert.Equal(t, startFEN, board.Position)
}

// Scenario D: querying a session nobody created.
func TestCoordinator_UnknownSession(t *testing.T) {
	c := newChessCoordinator(t, Options{})

	var err error
	assert.NotPanics(t, func() {
		_, err = c.State("never-created")
	})
	assert.ErrorIs(t, err, ErrUnknownSession)
	assert.Equal(t, ReasonUnknownSession, ReasonOf(err))

	_, err = c.Snapshot("never-created")
	assert.ErrorIs(t, err, ErrUnknownSession)

	err = c.BroadcastToSession("never-created", messages.EventUpdate, nil)
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestCoordinator_MembersReceiveIdenticalUpdates(t *testing.T) {
	c := newChessCoordinator(t, Options{})
	x := connect(c, "X")
	y := connect(c, "Y")
	_, err := c.JoinSession("X", "R1")
	require.NoError(t, err)
	_, err = c.JoinSession("Y", "R1")
	require.NoError(t, err)
	x.reset()
	y.reset()

	for i, mv := range []string{"e2e4", "e7e5", "g1f3", "b8c6"} {
		id := "X"
		if i%2 == 1 {
			id = "Y"
		}
		_, err := c.Move(id, mv)
		require.NoError(t, err, mv)
	}

	assert.Len(t, x.updates(t), 4)
	assert.Equal(t, x.updates(t), y.updates(t))
}

func TestCoordinator_SessionsAreIsolated(t *testing.T) {
	c := newChessCoordinator(t, Options{})
	x := connect(c, "X")
	y := connect(c, "Y")
	_, err := c.JoinSession("X", "R1")
	require.NoError(t, err)
	_, err = c.JoinSession("Y", "r1")
	require.NoError(t, err)
	y.reset()

	_, err = c.Move("X", "d2d4")
	require.NoError(t, err)

	assert.Empty(t, y.updates(t))
	assert.Len(t, x.updates(t), 2)

	fen, err := c.State("r1")
	require.NoError(t, err)
	assert.Equal(t, startFEN, fen)
	assert.Equal(t, 2, c.Stats().Sessions)
}

func TestCoordinator_Errors(t *testing.T) {
	c := newChessCoordinator(t, Options{})
	x := connect(c, "X")

	_, err := c.JoinSession("X", "")
	assert.ErrorIs(t, err, ErrInvalidSessionKey)

	_, err = c.JoinSession("X", string(make([]byte, MaxSessionKeyLen+1)))
	assert.ErrorIs(t, err, ErrInvalidSessionKey)

	_, err = c.Move("X", "e2e4")
	assert.ErrorIs(t, err, ErrNotInSession)

	_, err = c.Board("X")
	assert.ErrorIs(t, err, ErrNotInSession)

	_, err = c.JoinSession("ghost", "R1")
	assert.ErrorIs(t, err, ErrUnknownClient)
	assert.Equal(t, 0, c.Stats().Sessions, "rejected join must not create a session")

	_, err = c.JoinSession("X", "R1")
	require.NoError(t, err)
	x.reset()

	for _, raw := range []string{"", "e2", "e2e4e5", "z9z9", "E2E4", "e2e4k"} {
		_, err = c.Move("X", raw)
		assert.ErrorIs(t, err, ErrMalformedMove, raw)
		assert.Equal(t, ReasonMalformedMove, ReasonOf(err))
	}
	assert.Empty(t, x.updates(t))

	fen, err := c.State("R1")
	require.NoError(t, err)
	assert.Equal(t, startFEN, fen)
}

func TestCoordinator_DispatcherRequiresMembership(t *testing.T) {
	c := newChessCoordinator(t, Options{})
	connect(c, "X")
	connect(c, "Y")
	_, err := c.JoinSession("X", "R1")
	require.NoError(t, err)
	_, err = c.JoinSession("Y", "R2")
	require.NoError(t, err)

	_, err = c.dispatcher.Apply("Y", "R1", "e2e4", nil)
	assert.ErrorIs(t, err, ErrNotInSession)

	_, err = c.dispatcher.Apply("Y", "R3", "e2e4", nil)
	assert.ErrorIs(t, err, ErrUnknownSession)

	fen, err := c.State("R1")
	require.NoError(t, err)
	assert.Equal(t, startFEN, fen)
}

func TestCoordinator_Disconnect(t *testing.T) {
	c := newChessCoordinator(t, Options{})
	connect(c, "X")
	y := connect(c, "Y")
	_, err := c.JoinSession("X", "R1")
	require.NoError(t, err)
	_, err = c.JoinSession("Y", "R1")
	require.NoError(t, err)

	c.Disconnect("X")

	assert.False(t, c.registry.Has("X"))
	_, ok := c.SessionOf("X")
	assert.False(t, ok)
	members, err := c.Members("R1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Y"}, members)

	// the remaining member keeps playing
	y.reset()
	_, err = c.Move("Y", "e2e4")
	require.NoError(t, err)
	assert.Len(t, y.updates(t), 1)

	// anything from the departed client is discarded
	_, err = c.Move("X", "e7e5")
	assert.ErrorIs(t, err, ErrUnknownClient)

	// unknown and repeated disconnects are no-ops
	c.Disconnect("X")
	c.Disconnect("nobody")
	assert.Equal(t, 1, c.Stats().Connections)
}

func TestCoordinator_SwitchingSessionsLeavesTheOldOne(t *testing.T) {
	c := newChessCoordinator(t, Options{})
	connect(c, "X")
	connect(c, "Y")
	_, err := c.JoinSession("X", "R1")
	require.NoError(t, err)
	_, err = c.JoinSession("Y", "R1")
	require.NoError(t, err)

	_, err = c.JoinSession("X", "R2")
	require.NoError(t, err)

	key, _ := c.SessionOf("X")
	assert.Equal(t, "R2", key)

	members, err := c.Members("R1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Y"}, members)

	// rejoining the same key keeps a single membership
	_, err = c.JoinSession("X", "R2")
	require.NoError(t, err)
	members, err = c.Members("R2")
	require.NoError(t, err)
	assert.Equal(t, []string{"X"}, members)
}

func TestCoordinator_LeaveSession(t *testing.T) {
	c := newChessCoordinator(t, Options{})
	connect(c, "X")
	_, err := c.JoinSession("X", "R1")
	require.NoError(t, err)

	require.NoError(t, c.LeaveSession("X"))
	_, ok := c.SessionOf("X")
	assert.False(t, ok)
	assert.True(t, c.registry.Has("X"))

	assert.ErrorIs(t, c.LeaveSession("nobody"), ErrUnknownClient)
}

func TestCoordinator_EagerReclamation(t *testing.T) {
	c := newChessCoordinator(t, Options{})
	connect(c, "X")

	_, err := c.JoinSession("X", "R1")
	require.NoError(t, err)
	_, err = c.Move("X", "e2e4")
	require.NoError(t, err)

	c.Disconnect("X")

	assert.Equal(t, 0, c.Stats().Sessions)
	assert.Equal(t, 0, c.store.Len())
	_, err = c.State("R1")
	assert.ErrorIs(t, err, ErrUnknownSession)

	// the key starts over from the initial position
	connect(c, "Y")
	fen, err := c.JoinSession("Y", "R1")
	require.NoError(t, err)
	assert.Equal(t, startFEN, fen)
}

func TestCoordinator_RetentionKeepsDormantSessions(t *testing.T) {
	c := newChessCoordinator(t, Options{Retention: time.Minute})
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := base
	c.directory.now = func() time.Time { return now }

	connect(c, "X")
	_, err := c.JoinSession("X", "R1")
	require.NoError(t, err)
	moved, err := c.Move("X", "e2e4")
	require.NoError(t, err)

	c.Disconnect("X")
	assert.Equal(t, 1, c.Stats().Sessions)

	fen, err := c.State("R1")
	require.NoError(t, err)
	assert.Equal(t, moved, fen)

	assert.Empty(t, c.Reap(base.Add(30*time.Second)))

	// a join revives the session and resets its idle clock
	connect(c, "Y")
	fen, err = c.JoinSession("Y", "R1")
	require.NoError(t, err)
	assert.Equal(t, moved, fen)
	assert.Empty(t, c.Reap(base.Add(2*time.Minute)))

	now = base.Add(3 * time.Minute)
	c.Disconnect("Y")

	assert.Empty(t, c.Reap(now.Add(59*time.Second)))
	assert.Equal(t, []string{"R1"}, c.Reap(now.Add(time.Minute)))
	assert.Equal(t, 0, c.Stats().Sessions)
	assert.Equal(t, 0, c.store.Len())
}

func TestCoordinator_ReaperLoop(t *testing.T) {
	c := newChessCoordinator(t, Options{Retention: 10 * time.Millisecond, ReapInterval: 5 * time.Millisecond})
	c.Start(context.Background())
	defer c.Close()

	connect(c, "X")
	_, err := c.JoinSession("X", "R1")
	require.NoError(t, err)
	c.Disconnect("X")

	assert.Eventually(t, func() bool {
		return c.Stats().Sessions == 0
	}, time.Second, 5*time.Millisecond)
}

func TestCoordinator_DroppedDeliveryDoesNotBlock(t *testing.T) {
	logger := zaptest.NewLogger(t)
	publisher := events.NewPublisher()
	dropped := make(chan events.Event, 4)
	publisher.Subscribe(events.EventDeliveryDropped, func(e events.Event) { dropped <- e })

	c := New(rules.NewChessEngine(logger), publisher, logger, Options{})
	x := connect(c, "X")
	y := connect(c, "Y")
	_, err := c.JoinSession("X", "R1")
	require.NoError(t, err)
	_, err = c.JoinSession("Y", "R1")
	require.NoError(t, err)
	x.reset()
	y.reset()

	y.setFull(true)
	_, err = c.Move("X", "e2e4")
	require.NoError(t, err)

	assert.Len(t, x.updates(t), 1)
	assert.Empty(t, y.updates(t))

	select {
	case e := <-dropped:
		assert.Equal(t, "Y", e.ClientID)
		assert.Equal(t, "R1", e.SessionKey)
	case <-time.After(time.Second):
		t.Fatal("drop was not reported")
	}
}

func TestCoordinator_BroadcastToSession(t *testing.T) {
	c := newChessCoordinator(t, Options{})
	x := connect(c, "X")
	y := connect(c, "Y")
	z := connect(c, "Z")
	_, err := c.JoinSession("X", "R1")
	require.NoError(t, err)
	_, err = c.JoinSession("Y", "R1")
	require.NoError(t, err)

	require.NoError(t, c.BroadcastToSession("R1", "notice", map[string]string{"text": "hi"}))

	assert.Len(t, x.events("notice"), 1)
	assert.Len(t, y.events("notice"), 1)
	assert.Empty(t, z.events("notice"))

	c.BroadcastToAll("notice", nil)
	assert.Len(t, z.events("notice"), 1)

	assert.True(t, c.SendTo("Z", "notice", nil))
	assert.False(t, c.SendTo("nobody", "notice", nil))
	assert.Len(t, z.events("notice"), 2)
}

func TestCoordinator_ConcurrentMovesAreLinearized(t *testing.T) {
	logger := zaptest.NewLogger(t)
	c := New(countingEngine{}, events.NewPublisher(), logger, Options{})

	const clients = 8
	const perClient = 50

	peers := make([]*fakePeer, clients)
	for i := range peers {
		id := strconv.Itoa(i)
		peers[i] = connect(c, id)
		_, err := c.JoinSession(id, "R1")
		require.NoError(t, err)
	}
	for _, p := range peers {
		p.reset()
	}

	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for j := 0; j < perClient; j++ {
				mv := "a2a3"
				if j%10 == 0 {
					mv = "a7h8" // rejected by the counting engine
				}
				_, _ = c.Move(id, mv)
			}
		}(strconv.Itoa(i))
	}
	wg.Wait()

	accepted := clients * perClient * 9 / 10
	fen, err := c.State("R1")
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(accepted), fen)

	// every member saw every committed position, in commit order
	for _, p := range peers {
		ups := p.updates(t)
		require.Len(t, ups, accepted)
		for i, u := range ups {
			assert.Equal(t, strconv.Itoa(i+1), u.Position)
		}
	}
}

func TestCoordinator_UnrelatedSessionsRunInParallel(t *testing.T) {
	c := New(countingEngine{}, events.NewPublisher(), zap.NewNop(), Options{})

	const sessions = 16
	var wg sync.WaitGroup
	for i := 0; i < sessions; i++ {
		id := fmt.Sprintf("c%d", i)
		key := fmt.Sprintf("room-%d", i)
		connect(c, id)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.JoinSession(id, key); err != nil {
				t.Error(err)
				return
			}
			for j := 0; j < 20; j++ {
				if _, err := c.Move(id, "b1c3"); err != nil {
					t.Error(err)
				}
			}
		}()
	}
	wg.Wait()

	for i := 0; i < sessions; i++ {
		fen, err := c.State(fmt.Sprintf("room-%d", i))
		require.NoError(t, err)
		assert.Equal(t, "20", fen)
	}
}

func TestCoordinator_DisconnectRacingMoves(t *testing.T) {
	for round := 0; round < 20; round++ {
		c := New(countingEngine{}, events.NewPublisher(), zap.NewNop(), Options{Retention: time.Hour})
		connect(c, "X")
		watcher := connect(c, "W")
		_, err := c.JoinSession("X", "R1")
		require.NoError(t, err)
		_, err = c.JoinSession("W", "R1")
		require.NoError(t, err)
		watcher.reset()

		var (
			wg sync.WaitGroup
			mu sync.Mutex
			ok int
		)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := c.Move("X", "c2c4"); err == nil {
					mu.Lock()
					ok++
					mu.Unlock()
				} else {
					assert.ErrorIs(t, err, ErrUnknownClient)
				}
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Disconnect("X")
		}()
		wg.Wait()

		// every move either fully happened, broadcast included, or left no trace
		fen, err := c.State("R1")
		require.NoError(t, err)
		assert.Equal(t, strconv.Itoa(ok), fen)
		assert.Len(t, watcher.updates(t), ok)
	}
}

// Replaying legal moves through the coordinator matches folding them with the chess library.
func TestCoordinator_ReplayMatchesRulesFold(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		c := New(rules.NewChessEngine(zap.NewNop()), nil, zap.NewNop(), Options{})
		c.Connect("X", &fakePeer{})
		if _, err := c.JoinSession("X", "R1"); err != nil {
			rt.Fatalf("join: %v", err)
		}

		ref := chess.NewGame()
		steps := rapid.IntRange(0, 40).Draw(rt, "steps")

		for i := 0; i < steps; i++ {
			var legal []string
			for _, vm := range ref.ValidMoves() {
				legal = append(legal, vm.String())
			}
			if len(legal) == 0 || ref.Outcome() != chess.NoOutcome {
				break
			}

			uci := rapid.SampledFrom(legal).Draw(rt, fmt.Sprintf("move%d", i))

			m, err := chess.UCINotation{}.Decode(ref.Position(), uci)
			if err != nil {
				rt.Fatalf("decode %s: %v", uci, err)
			}
			if err := ref.PushMove(chess.AlgebraicNotation{}.Encode(ref.Position(), m), nil); err != nil {
				rt.Fatalf("reference move %s: %v", uci, err)
			}

			if _, err := c.Move("X", uci); err != nil {
				rt.Fatalf("coordinator move %s: %v", uci, err)
			}
		}

		fen, err := c.State("R1")
		if err != nil {
			rt.Fatalf("state: %v", err)
		}
		if fen != ref.FEN() {
			rt.Fatalf("position mismatch:\n got  %s\n want %s", fen, ref.FEN())
		}
	})
}
