package congestion_wdctcp

// slowStart grows the window by one segment per acked segment up to
// ssthresh and returns what is left of acked.
func slowStart(sk *Sock, acked uint32) uint32 {
	cwnd := Min(uint64(sk.SndCwnd)+uint64(acked), uint64(sk.SndSsthresh))
	used := uint32(cwnd - uint64(sk.SndCwnd))
	sk.SndCwnd = uint32(Min(cwnd, sk.cwndClamp()))
	return acked - used
}

func (c *Controller) weightedCongAvoid(sk *Sock, ack uint32, acked uint32) {
	if !sk.IsCwndLimited() {
		return
	}
	if sk.SndCwnd <= sk.SndSsthresh {
		acked = slowStart(sk, acked)
		if acked == 0 {
			return
		}
	}
	c.weightedAI(sk, sk.SndCwnd, acked)
}

// weightedAI is additive increase where each acked segment earns
// weight/precision of a segment of credit instead of a whole one.
func (c *Controller) weightedAI(sk *Sock, w uint32, acked uint32) {
	w = Max(w, 1)
	// credit banked at a larger window is applied gently
	if sk.SndCwndCnt >= w {
		sk.SndCwndCnt = 0
		sk.SndCwnd++
	}

	precision := uint64(c.config.Precision)
	credit := uint64(c.state.weightAckedCnt) + uint64(c.Weight())*uint64(acked)
	cnt := uint64(sk.SndCwndCnt)
	if credit >= precision {
		delta := credit / precision
		credit -= delta * precision
		cnt += delta
	}
	c.state.weightAckedCnt = uint32(credit)

	cwnd := uint64(sk.SndCwnd)
	if cnt >= uint64(w) {
		delta := cnt / uint64(w)
		cnt -= delta * uint64(w)
		cwnd += delta
	}
	sk.SndCwndCnt = uint32(cnt)
	sk.SndCwnd = uint32(Min(cwnd, sk.cwndClamp()))
}

// dctcpSSThresh reduces the window by alpha/2 and remembers the window for
// UndoCwnd.
func (c *Controller) dctcpSSThresh(sk *Sock) uint32 {
	c.state.lossCwnd = sk.SndCwnd
	reduction := uint32((uint64(sk.SndCwnd) * uint64(c.state.alpha)) >> 11)
	return Max(sk.SndCwnd-reduction, 2)
}
