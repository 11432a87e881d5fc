package coordinator

import (
	"encoding/json"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tecu23/room-server/pkg/events"
	"github.com/tecu23/room-server/pkg/messages"
	"github.com/tecu23/room-server/pkg/rules"
)

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

type received struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// fakePeer records everything delivered to it. full makes it refuse messages like a
// connection whose buffer is exhausted.
type fakePeer struct {
	mu   sync.Mutex
	msgs []received
	full bool
}

func (p *fakePeer) Send(data []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.full {
		return false
	}

	var r received
	if err := json.Unmarshal(data, &r); err != nil {
		panic(err)
	}
	p.msgs = append(p.msgs, r)
	return true
}

func (p *fakePeer) setFull(full bool) {
	p.mu.Lock()
	p.full = full
	p.mu.Unlock()
}

func (p *fakePeer) events(name string) []received {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []received
	for _, m := range p.msgs {
		if m.Event == name {
			out = append(out, m)
		}
	}
	return out
}

func (p *fakePeer) updates(t *testing.T) []messages.UpdatePayload {
	t.Helper()

	var out []messages.UpdatePayload
	for _, m := range p.events(messages.EventUpdate) {
		var u messages.UpdatePayload
		require.NoError(t, json.Unmarshal(m.Payload, &u))
		out = append(out, u)
	}
	return out
}

func (p *fakePeer) reset() {
	p.mu.Lock()
	p.msgs = nil
	p.mu.Unlock()
}

func newChessCoordinator(t *testing.T, opts Options) *Coordinator {
	t.Helper()
	logger := zaptest.NewLogger(t)
	return New(rules.NewChessEngine(logger), events.NewPublisher(), logger, opts)
}

func connect(c *Coordinator, id string) *fakePeer {
	p := &fakePeer{}
	c.Connect(id, p)
	return p
}

// counter is the position of countingEngine: the number of accepted moves.
type counter struct {
	n    int
	last string
}

// countingEngine accepts every move except those landing on h8, so tests can detect lost
// updates with plain integers.
type countingEngine struct{}

func (countingEngine) New() rules.Position { return counter{} }

func (countingEngine) Move(p rules.Position, m rules.Move) (rules.Position, error) {
	c := p.(counter)
	if m.To == "h8" {
		return nil, rules.ErrIllegalMove
	}
	return counter{n: c.n + 1, last: m.String()}, nil
}

func (countingEngine) Serialize(p rules.Position) string {
	return strconv.Itoa(p.(counter).n)
}

func (countingEngine) Status(p rules.Position) rules.Status {
	return rules.Status{Turn: rules.White, Outcome: "*", LastMove: p.(counter).last}
}
