package congestion_wdctcp

// Reno personality used when the connection cannot run the weighted
// algorithm. It keeps no ECN or weight state, only the loss snapshot.

func (c *Controller) renoSSThresh(sk *Sock) uint32 {
	c.state.lossCwnd = sk.SndCwnd
	return Max(sk.SndCwnd>>1, 2)
}

func (c *Controller) renoCongAvoid(sk *Sock, ack uint32, acked uint32) {
	if !sk.IsCwndLimited() {
		return
	}
	if sk.InSlowStart() {
		acked = slowStart(sk, acked)
		if acked == 0 {
			return
		}
	}
	congAvoidAI(sk, sk.SndCwnd, acked)
}

// congAvoidAI grows the window by acked/w segments.
func congAvoidAI(sk *Sock, w uint32, acked uint32) {
	w = Max(w, 1)
	if sk.SndCwndCnt >= w {
		sk.SndCwndCnt = 0
		sk.SndCwnd++
	}
	cnt := uint64(sk.SndCwndCnt) + uint64(acked)
	cwnd := uint64(sk.SndCwnd)
	if cnt >= uint64(w) {
		delta := cnt / uint64(w)
		cnt -= delta * uint64(w)
		cwnd += delta
	}
	sk.SndCwndCnt = uint32(cnt)
	sk.SndCwnd = uint32(Min(cwnd, sk.cwndClamp()))
}
