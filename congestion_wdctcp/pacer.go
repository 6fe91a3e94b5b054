// Copyright 2016 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package congestion_wdctcp

import (
	"time"

	"github.com/sagernet/quic-go/congestion"
	"github.com/sagernet/quic-go/monotime"
)

const (
	maxBurstPackets = 10
	minPacingDelay  = time.Millisecond
)

// pacer is a token bucket refilled at the rate reported by rate.
type pacer struct {
	budgetAtLastSent congestion.ByteCount
	maxDatagramSize  congestion.ByteCount
	lastSentTime     monotime.Time
	rate             func() Bandwidth
}

func newPacer(maxDatagramSize congestion.ByteCount, rate func() Bandwidth) *pacer {
	return &pacer{
		budgetAtLastSent: maxBurstPackets * maxDatagramSize,
		maxDatagramSize:  maxDatagramSize,
		rate:             rate,
	}
}

func (p *pacer) SetMaxDatagramSize(size congestion.ByteCount) {
	p.maxDatagramSize = size
}

func (p *pacer) Budget(now monotime.Time) congestion.ByteCount {
	if p.lastSentTime.IsZero() {
		return p.maxBurstSize()
	}
	return Min(p.budgetAtLastSent+p.bytesForInterval(now.Sub(p.lastSentTime)), p.maxBurstSize())
}

// TimeUntilSend returns zero when a full datagram may be sent right away.
func (p *pacer) TimeUntilSend() monotime.Time {
	if p.lastSentTime.IsZero() || p.budgetAtLastSent >= p.maxDatagramSize {
		return 0
	}
	return p.lastSentTime.Add(p.intervalForBytes(p.maxDatagramSize - p.budgetAtLastSent))
}

func (p *pacer) OnPacketSent(sentTime monotime.Time, size congestion.ByteCount) {
	if !p.lastSentTime.IsZero() {
		p.budgetAtLastSent = p.Budget(sentTime)
	}
	p.lastSentTime = sentTime
	if size > p.budgetAtLastSent {
		p.budgetAtLastSent = 0
	} else {
		p.budgetAtLastSent -= size
	}
}

func (p *pacer) maxBurstSize() congestion.ByteCount {
	return maxBurstPackets * p.maxDatagramSize
}

func (p *pacer) bytesForInterval(interval time.Duration) congestion.ByteCount {
	rate := p.rate()
	if rate.IsZero() || rate.IsInfinite() {
		return p.maxBurstSize()
	}
	return rate.ToBytesPerPeriod(interval)
}

func (p *pacer) intervalForBytes(bytes congestion.ByteCount) time.Duration {
	rate := p.rate()
	if rate.IsZero() || rate.IsInfinite() {
		return 0
	}
	return Max(rate.TransferTime(bytes), minPacingDelay)
}
