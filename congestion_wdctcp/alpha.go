package congestion_wdctcp

func (c *Controller) resetEpoch(sk *Sock) {
	c.state.nextSeq = sk.SndNxt
	c.state.ackedBytesECN = 0
	c.state.ackedBytesTotal = 0
}

func (c *Controller) updateAlpha(sk *Sock, flags AckFlags) {
	s := &c.state
	ackedBytes := sk.SndUna - s.priorSndUna

	// dup ACKs count as one segment, pure window updates as nothing
	if ackedBytes == 0 && flags&AckWinUpdate == 0 {
		ackedBytes = sk.RcvMSS
	}
	if ackedBytes != 0 {
		s.ackedBytesTotal += ackedBytes
		s.priorSndUna = sk.SndUna
		if flags&AckECE != 0 {
			s.ackedBytesECN += ackedBytes
		}
	}

	if !before(sk.SndUna, s.nextSeq) {
		c.endEpoch(sk)
	}
}

// endEpoch folds the marked fraction of the last round trip into alpha:
// alpha = (1 - g) * alpha + g * F
func (c *Controller) endEpoch(sk *Sock) {
	s := &c.state
	total := uint64(s.ackedBytesTotal)
	if total == 0 {
		total = 1
	}
	shift := c.config.AlphaShift
	alpha := uint64(s.alpha) - uint64(s.alpha>>shift) + (uint64(s.ackedBytesECN)<<(10-shift))/total
	s.alpha = uint32(Min(alpha, alphaMax))
	c.resetEpoch(sk)
}
