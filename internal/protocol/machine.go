package protocol

import (
	"fmt"

	"github.com/danmuck/minitel/internal/protocol/frame"
)

// Phase is a connection's position in the command state machine.
type Phase int

const (
	PhaseAwaitingHello Phase = iota
	PhaseAuthenticated
	PhaseTerminated
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingHello:
		return "awaiting_hello"
	case PhaseAuthenticated:
		return "authenticated"
	case PhaseTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Reply is the server's answer to one accepted request.
type Reply struct {
	Command    frame.Command
	WithSecret bool
}

type transitionKey struct {
	phase Phase
	cmd   frame.Command
}

type transition struct {
	next    Phase
	replies []frame.Command
	apply   func(m *Machine) Reply
}

// transitions is the complete set of legal (phase, request) pairs. Anything
// missing from it is rejected.
var transitions = map[transitionKey]transition{
	{PhaseAwaitingHello, frame.Hello}: {
		next:    PhaseAuthenticated,
		replies: []frame.Command{frame.HelloAck},
		apply:   (*Machine).hello,
	},
	{PhaseAuthenticated, frame.Hello}: {
		next:    PhaseAuthenticated,
		replies: []frame.Command{frame.HelloAck},
		apply:   (*Machine).hello,
	},
	{PhaseAuthenticated, frame.Dump}: {
		next:    PhaseAuthenticated,
		replies: []frame.Command{frame.DumpFailed, frame.DumpOK},
		apply:   (*Machine).dump,
	},
	{PhaseAuthenticated, frame.Terminate}: {
		next:    PhaseTerminated,
		replies: []frame.Command{frame.TerminateOK},
		apply:   (*Machine).terminate,
	},
}

// Machine is the command state machine shared by both peers. The server drives
// it with Accept; the client drives it with Permit and Confirm. It is not safe
// for concurrent use; each connection owns its own Machine.
type Machine struct {
	phase   Phase
	queries int
}

func NewMachine() *Machine {
	return &Machine{phase: PhaseAwaitingHello}
}

func (m *Machine) Phase() Phase { return m.phase }

// Queries returns the number of DUMP requests since the last HELLO.
func (m *Machine) Queries() int { return m.queries }

// Accept runs one inbound request through the machine and returns the reply
// the server must send.
func (m *Machine) Accept(cmd frame.Command) (Reply, error) {
	t, err := m.lookup(cmd)
	if err != nil {
		return Reply{}, err
	}
	reply := t.apply(m)
	m.phase = t.next
	return reply, nil
}

// Permit reports whether cmd may be sent in the current phase.
func (m *Machine) Permit(cmd frame.Command) error {
	_, err := m.lookup(cmd)
	return err
}

// Confirm checks that resp is a legal reply to req and applies the transition.
// A DUMP is answered by either DUMP_FAILED or DUMP_OK; the client does not
// second-guess which one the server chose.
func (m *Machine) Confirm(req, resp frame.Command) error {
	t, err := m.lookup(req)
	if err != nil {
		return err
	}
	legal := false
	for _, c := range t.replies {
		if c == resp {
			legal = true
			break
		}
	}
	if !legal {
		return fmt.Errorf("%w: %s answered with %s", ErrUnexpectedReply, req, resp)
	}
	t.apply(m)
	m.phase = t.next
	return nil
}

func (m *Machine) lookup(cmd frame.Command) (transition, error) {
	if !cmd.IsRequest() {
		return transition{}, fmt.Errorf("%w: %s", ErrUnknownCommand, cmd)
	}
	t, ok := transitions[transitionKey{phase: m.phase, cmd: cmd}]
	if ok {
		return t, nil
	}
	switch m.phase {
	case PhaseAwaitingHello:
		return transition{}, fmt.Errorf("%w: %s", ErrUnauthenticated, cmd)
	case PhaseTerminated:
		return transition{}, fmt.Errorf("%w: %s", ErrSessionTerminated, cmd)
	default:
		return transition{}, fmt.Errorf("%w: %s in phase %s", ErrUnknownCommand, cmd, m.phase)
	}
}

func (m *Machine) hello() Reply {
	m.queries = 0
	return Reply{Command: frame.HelloAck}
}

// dump applies the scripted policy: the first DUMP after a HELLO fails, every
// later one succeeds.
func (m *Machine) dump() Reply {
	m.queries++
	if m.queries == 1 {
		return Reply{Command: frame.DumpFailed}
	}
	return Reply{Command: frame.DumpOK, WithSecret: true}
}

func (m *Machine) terminate() Reply {
	return Reply{Command: frame.TerminateOK}
}
