package sim

import (
	"github.com/sagernet/sing-wdctcp/congestion_wdctcp"
)

type ack struct {
	seq uint32
	ece bool
}

type flow struct {
	name     string
	mss      uint32
	sender   *congestion_wdctcp.Controller
	receiver *congestion_wdctcp.Controller
	snd      *congestion_wdctcp.Sock
	rcv      *congestion_wdctcp.Sock

	ectDisabled bool
	caState     congestion_wdctcp.CAState
	highSeq     uint32

	// receiver side segments not acknowledged yet
	pending int
	acks    []ack

	roundSent uint32
	roundLost uint32
	measure   bool

	marked    uint64
	dropped   uint64
	delivered uint64
	measured  uint64
	cwndSum   uint64
}

type senderTransmitter struct {
	flow *flow
}

func (t senderTransmitter) SendAck(sk *congestion_wdctcp.Sock) {}

func (t senderTransmitter) DisableECT(sk *congestion_wdctcp.Sock) {
	t.flow.ectDisabled = true
}

type receiverTransmitter struct {
	flow *flow
}

func (t receiverTransmitter) SendAck(sk *congestion_wdctcp.Sock) {
	t.flow.sendAck()
}

func (t receiverTransmitter) DisableECT(sk *congestion_wdctcp.Sock) {}

func (f *flow) beginRound(window uint32, measure bool) {
	f.snd.MaxPacketsOut = window
	f.snd.CwndLimited = true
	f.roundSent = window
	f.roundLost = 0
	f.acks = f.acks[:0]
	f.measure = measure
	if measure {
		f.cwndSum += uint64(window)
	}
}

// transmit sends the next segment through the bottleneck. A dropped
// segment is retransmitted unmarked within the same round, so the receiver
// always sees an in order stream and the drop is only felt by the sender.
func (f *flow) transmit(ce bool, drop bool) {
	f.snd.SndNxt += f.mss
	if drop {
		f.dropped++
		f.roundLost++
		ce = false
	}
	if ce {
		f.marked++
	}
	f.receive(ce)
}

func (f *flow) receive(ce bool) {
	f.rcv.RcvNxt += f.mss
	if ce {
		f.receiver.CwndEvent(f.rcv, congestion_wdctcp.EventECNIsCE)
	} else {
		f.receiver.CwndEvent(f.rcv, congestion_wdctcp.EventECNNoCE)
	}
	f.pending++
	if f.pending >= defaultDelayedAckSegs {
		f.sendAck()
	} else {
		f.receiver.CwndEvent(f.rcv, congestion_wdctcp.EventDelayedAck)
	}
}

func (f *flow) sendAck() {
	f.acks = append(f.acks, ack{seq: f.rcv.RcvNxt, ece: f.rcv.DemandCWR})
	f.pending = 0
	f.receiver.CwndEvent(f.rcv, congestion_wdctcp.EventNonDelayedAck)
}

func (f *flow) endRound() {
	// delayed ACK timer
	if f.pending > 0 {
		f.sendAck()
	}
	if f.roundLost > 0 {
		f.onLoss()
	}
	for _, a := range f.acks {
		f.onAck(a)
	}
}

func (f *flow) onLoss() {
	if f.roundLost == f.roundSent {
		ssthresh := f.sender.SSThresh(f.snd)
		f.snd.SndSsthresh = ssthresh
		f.snd.SndCwnd = 1
		f.snd.SndCwndCnt = 0
		f.setCAState(congestion_wdctcp.CALoss)
		return
	}
	if f.caState == congestion_wdctcp.CARecovery || f.caState == congestion_wdctcp.CALoss {
		return
	}
	f.reduce(congestion_wdctcp.CARecovery)
}

func (f *flow) onAck(a ack) {
	acked := a.seq - f.snd.SndUna
	f.snd.SndUna = a.seq
	f.delivered += uint64(acked)
	if f.measure {
		f.measured += uint64(acked)
	}

	flags := congestion_wdctcp.AckSlowPath
	if a.ece && !f.ectDisabled {
		flags |= congestion_wdctcp.AckECE
	}
	f.sender.InAckEvent(f.snd, flags)

	switch {
	case flags&congestion_wdctcp.AckECE != 0 && f.caState == congestion_wdctcp.CAOpen:
		f.reduce(congestion_wdctcp.CACWR)
	case f.caState == congestion_wdctcp.CAOpen || f.caState == congestion_wdctcp.CALoss:
		f.sender.CongAvoid(f.snd, a.seq, acked/f.mss)
	}

	if f.caState != congestion_wdctcp.CAOpen && !seqBefore(f.snd.SndUna, f.highSeq) {
		f.setCAState(congestion_wdctcp.CAOpen)
	}
}

// reduce enters a window reduction that lasts until everything sent so far
// is acknowledged. The window drops to ssthresh at once.
func (f *flow) reduce(state congestion_wdctcp.CAState) {
	ssthresh := f.sender.SSThresh(f.snd)
	f.snd.SndSsthresh = ssthresh
	if f.snd.SndCwnd > ssthresh {
		f.snd.SndCwnd = ssthresh
	}
	f.setCAState(state)
}

func (f *flow) setCAState(state congestion_wdctcp.CAState) {
	if state != congestion_wdctcp.CAOpen {
		f.highSeq = f.snd.SndNxt
	}
	f.caState = state
	f.sender.SetState(f.snd, state)
}

func seqBefore(seq1, seq2 uint32) bool {
	return int32(seq1-seq2) < 0
}
