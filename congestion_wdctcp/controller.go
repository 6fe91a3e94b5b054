package congestion_wdctcp

import (
	"github.com/sagernet/sing-wdctcp/weight"
	E "github.com/sagernet/sing/common/exceptions"
	"github.com/sagernet/sing/common/logger"
)

const (
	NameWeighted = "wdctcp"
	NameReno     = "wdctcp-reno"
)

// Mode is the personality a controller runs with after Init.
type Mode uint8

const (
	ModeWeighted Mode = iota
	ModeReno
)

func (m Mode) String() string {
	switch m {
	case ModeWeighted:
		return NameWeighted
	case ModeReno:
		return NameReno
	default:
		return "unknown"
	}
}

type Options struct {
	Config   Config
	Provider weight.Provider
	Logger   logger.ContextLogger
}

// connState is the per connection state of the weighted personality.
type connState struct {
	ackedBytesECN      uint32
	ackedBytesTotal    uint32
	priorSndUna        uint32
	priorRcvNxt        uint32
	alpha              uint32
	nextSeq            uint32
	ceState            CEState
	delayedACKReserved bool
	// weightAckedCnt holds weighted credit below one precision unit.
	weightAckedCnt uint32
	handle         *weight.Handle
	lossCwnd       uint32
}

// Controller is the congestion control slot of a single connection.
//
// It does no locking: every method must be called from the connection's
// serialization point, the same one that owns the Sock.
type Controller struct {
	config   Config
	provider weight.Provider
	logger   logger.ContextLogger
	mode     Mode
	state    connState
}

func NewController(options Options) (*Controller, error) {
	err := options.Config.Validate()
	if err != nil {
		return nil, E.Cause(err, "invalid wdctcp config")
	}
	if options.Logger == nil {
		options.Logger = logger.NOP()
	}
	return &Controller{
		config:   options.Config,
		provider: options.Provider,
		logger:   options.Logger,
	}, nil
}

func (c *Controller) Name() string {
	return c.mode.String()
}

func (c *Controller) Mode() Mode {
	return c.mode
}

// Init enters the connection into the algorithm. Connections without ECN,
// or whose weight record cannot be created, run Reno and stop sending ECT.
func (c *Controller) Init(sk *Sock) {
	c.Release(sk)
	c.mode = ModeWeighted
	c.state = connState{}
	if !sk.ECNOK && sk.State != StateListen && sk.State != StateClose {
		c.fallback(sk, E.New("ecn not negotiated"))
		return
	}
	if c.provider == nil {
		c.fallback(sk, E.New("missing weight provider"))
		return
	}
	name, err := weight.Identity(sk.LocalAddr, sk.RemoteAddr)
	if err != nil {
		c.fallback(sk, err)
		return
	}
	handle, err := c.provider.Create(name, c.config.WeightOnInit)
	if err != nil {
		c.fallback(sk, err)
		return
	}
	c.state = connState{
		priorSndUna: sk.SndUna,
		priorRcvNxt: sk.RcvNxt,
		alpha:       Min(c.config.AlphaOnInit, alphaMax),
		handle:      handle,
	}
	c.resetEpoch(sk)
	c.logger.Trace("wdctcp: acquired weight record ", name)
}

func (c *Controller) fallback(sk *Sock, cause error) {
	c.logger.Debug(E.Cause(cause, "wdctcp: fall back to reno"))
	c.Release(sk)
	c.mode = ModeReno
	c.state = connState{}
	if sk.Transmitter != nil {
		sk.Transmitter.DisableECT(sk)
	}
}

// Release returns the weight handle. It is safe to call more than once and
// before Init.
func (c *Controller) Release(sk *Sock) {
	handle := c.state.handle
	if handle == nil {
		return
	}
	c.state.handle = nil
	c.provider.Release(handle)
	c.logger.Trace("wdctcp: released weight record ", handle.Name())
}

// Weight returns the weight of the connection, zero in fallback mode.
func (c *Controller) Weight() uint32 {
	if c.mode != ModeWeighted || c.state.handle == nil {
		return 0
	}
	return c.provider.Read(c.state.handle)
}

func (c *Controller) SSThresh(sk *Sock) uint32 {
	if c.mode == ModeReno {
		return c.renoSSThresh(sk)
	}
	return c.dctcpSSThresh(sk)
}

func (c *Controller) CongAvoid(sk *Sock, ack uint32, acked uint32) {
	if c.mode == ModeReno {
		c.renoCongAvoid(sk, ack, acked)
		return
	}
	c.weightedCongAvoid(sk, ack, acked)
}

func (c *Controller) UndoCwnd(sk *Sock) uint32 {
	return Max(sk.SndCwnd, c.state.lossCwnd)
}

func (c *Controller) SetState(sk *Sock, state CAState) {
	if c.mode != ModeWeighted {
		return
	}
	if c.config.ClampAlphaOnLoss && state == CALoss {
		c.state.alpha = alphaMax
	}
}

func (c *Controller) CwndEvent(sk *Sock, event Event) {
	if c.mode != ModeWeighted {
		return
	}
	switch event {
	case EventECNIsCE:
		c.enterCEState(sk, CE)
	case EventECNNoCE:
		c.enterCEState(sk, NotCE)
	case EventDelayedAck, EventNonDelayedAck:
		c.updateAckReserved(event)
	}
}

func (c *Controller) InAckEvent(sk *Sock, flags AckFlags) {
	if c.mode != ModeWeighted {
		return
	}
	c.updateAlpha(sk, flags)
}
