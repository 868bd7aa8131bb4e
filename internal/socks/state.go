package socks

import (
	"io"

	"github.com/rs/zerolog"
)

// State is the position of one handshake attempt. A handshake only moves
// forward, except that any state may move to StateFailed. StateComplete and
// StateFailed are terminal.
type State int

const (
	StateIdle State = iota
	StateConnectingToProxy
	StateSelectingAuthMethod
	StateAuthenticating
	StateSendingConnectRequest
	StateAwaitingConnectReply
	StateComplete
	StateFailed
)

var stateNames = [...]string{
	StateIdle:                  "idle",
	StateConnectingToProxy:     "connecting-to-proxy",
	StateSelectingAuthMethod:   "selecting-auth-method",
	StateAuthenticating:        "authenticating",
	StateSendingConnectRequest: "sending-connect-request",
	StateAwaitingConnectReply:  "awaiting-connect-reply",
	StateComplete:              "complete",
	StateFailed:                "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether s is StateComplete or StateFailed.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

type opKind uint8

const (
	opWrite opKind = iota
	opRead
	opDone
)

// op is the I/O a step machine asks its driver to perform next.
type op struct {
	kind opKind
	data []byte // opWrite
	n    int    // opRead
}

func writeOp(b []byte) op { return op{kind: opWrite, data: b} }
func readOp(n int) op     { return op{kind: opRead, n: n} }

var doneOp = op{kind: opDone}

// stepper advances an exchange by one stage. in holds the bytes of the
// preceding read; it is nil at the start and after a write.
type stepper interface {
	step(in []byte) (op, error)
}

// handshake is a full CONNECT negotiation.
type handshake interface {
	stepper
	State() State
	Err() error
	Reply() Reply
	transition(next State)
	fail(err error)
	setLogger(l *zerolog.Logger)
}

// machine holds the state shared by the SOCKS4 and SOCKS5 handshakes.
type machine struct {
	state State
	err   error
	reply Reply
	log   *zerolog.Logger
}

func newMachine() machine {
	nop := zerolog.Nop()
	return machine{log: &nop}
}

func (m *machine) State() State { return m.state }
func (m *machine) Err() error   { return m.err }
func (m *machine) Reply() Reply { return m.reply }

func (m *machine) setLogger(l *zerolog.Logger) {
	if l != nil {
		m.log = l
	}
}

func (m *machine) transition(next State) {
	m.log.Debug().Stringer("from", m.state).Stringer("to", next).Msg("socks handshake")
	m.state = next
}

func (m *machine) fail(err error) {
	if m.state.Terminal() {
		return
	}
	m.log.Debug().Err(err).Stringer("state", m.state).Msg("socks handshake failed")
	m.state = StateFailed
	m.err = err
}

// run drives s to completion over rw, one operation at a time.
func run(rw io.ReadWriter, s stepper) error {
	var in []byte
	for {
		o, err := s.step(in)
		if err != nil {
			return err
		}
		switch o.kind {
		case opDone:
			return nil
		case opWrite:
			if err := writeFull(rw, o.data); err != nil {
				return err
			}
			in = nil
		case opRead:
			if in, err = ReadExact(rw, o.n); err != nil {
				return err
			}
		}
	}
}
