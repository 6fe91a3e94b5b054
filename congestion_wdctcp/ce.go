package congestion_wdctcp

// CEState records whether the last received segment was CE marked.
type CEState uint16

const (
	NotCE CEState = iota
	CE
)

func (s CEState) String() string {
	if s == CE {
		return "ce"
	}
	return "not-ce"
}

// enterCEState moves the receiver side state machine to next. If the state
// flips while a delayed ACK is owed, the segments received before the flip
// are acknowledged first with the old ECE value, so the sender sees exactly
// which bytes were marked.
func (c *Controller) enterCEState(sk *Sock, next CEState) {
	s := &c.state
	if s.ceState != next && s.delayedACKReserved {
		rcvNxt := sk.RcvNxt
		sk.DemandCWR = s.ceState == CE
		sk.RcvNxt = s.priorRcvNxt
		if sk.Transmitter != nil {
			sk.Transmitter.SendAck(sk)
		}
		sk.RcvNxt = rcvNxt
	}
	s.priorRcvNxt = sk.RcvNxt
	s.ceState = next
	sk.DemandCWR = next == CE
}

func (c *Controller) updateAckReserved(event Event) {
	switch event {
	case EventDelayedAck:
		c.state.delayedACKReserved = true
	case EventNonDelayedAck:
		c.state.delayedACKReserved = false
	}
}
