package congestion_wdctcp

import (
	"math"

	M "github.com/sagernet/sing/common/metadata"
)

// InfiniteSSThresh is the slow start threshold of a fresh connection.
const InfiniteSSThresh = 0x7fffffff

// State is the TCP socket state, numbered like the Linux stack.
type State uint8

const (
	StateEstablished State = iota + 1
	StateSynSent
	StateSynRecv
	StateFinWait1
	StateFinWait2
	StateTimeWait
	StateClose
	StateCloseWait
	StateLastAck
	StateListen
	StateClosing
)

// CAState is the congestion avoidance state of the sender.
type CAState uint8

const (
	CAOpen CAState = iota
	CADisorder
	CACWR
	CARecovery
	CALoss
)

func (s CAState) String() string {
	switch s {
	case CAOpen:
		return "open"
	case CADisorder:
		return "disorder"
	case CACWR:
		return "cwr"
	case CARecovery:
		return "recovery"
	case CALoss:
		return "loss"
	default:
		return "unknown"
	}
}

// Event is a congestion window event reported by the stack.
type Event uint8

const (
	EventTxStart Event = iota
	EventCwndRestart
	EventCompleteCWR
	EventLoss
	EventECNNoCE
	EventECNIsCE
	EventDelayedAck
	EventNonDelayedAck
)

// AckFlags describe the ACK passed to InAckEvent.
type AckFlags uint32

const (
	AckSlowPath AckFlags = 1 << iota
	AckWinUpdate
	AckECE
)

// Transmitter is the part of the stack the controller calls back into.
type Transmitter interface {
	// SendAck transmits an ACK for sk.RcvNxt with ECE set from sk.DemandCWR.
	SendAck(sk *Sock)
	// DisableECT stops marking outgoing packets ECN capable.
	DisableECT(sk *Sock)
}

// Sock is the window and sequence state owned by the transport stack.
// The controller reads and mutates it only inside callbacks.
type Sock struct {
	SndCwnd      uint32
	SndCwndCnt   uint32
	SndSsthresh  uint32
	SndCwndClamp uint32

	State State
	// ECNOK is set once ECN was negotiated on the connection.
	ECNOK bool
	// DemandCWR makes outgoing ACKs carry ECE.
	DemandCWR bool

	SndUna uint32
	SndNxt uint32
	RcvNxt uint32
	RcvMSS uint32

	MaxPacketsOut uint32
	// CwndLimited is set by the stack when the last flight was limited by
	// the congestion window rather than by the application.
	CwndLimited bool

	LocalAddr  M.Socksaddr
	RemoteAddr M.Socksaddr

	Transmitter Transmitter
}

// cwndClamp treats an unset clamp as unlimited.
func (sk *Sock) cwndClamp() uint64 {
	if sk.SndCwndClamp == 0 {
		return math.MaxUint32
	}
	return uint64(sk.SndCwndClamp)
}

func (sk *Sock) InSlowStart() bool {
	return sk.SndCwnd < sk.SndSsthresh
}

func (sk *Sock) IsCwndLimited() bool {
	if sk.InSlowStart() {
		return uint64(sk.SndCwnd) < 2*uint64(sk.MaxPacketsOut)
	}
	return sk.CwndLimited
}

// before reports whether seq1 precedes seq2 in 32-bit sequence space.
func before(seq1, seq2 uint32) bool {
	return int32(seq1-seq2) < 0
}
