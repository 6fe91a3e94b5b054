// Copyright 2016 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Ported from:
// https://github.com/google/quiche/blob/main/quiche/quic/core/quic_bandwidth.h

package congestion_wdctcp

import (
	"math"
	"time"

	"github.com/sagernet/quic-go/congestion"
)

// Bandwidth is a rate in bits per second.
type Bandwidth int64

const (
	BitsPerSecond  Bandwidth = 1
	BytesPerSecond           = 8 * BitsPerSecond

	infiniteBandwidth = Bandwidth(math.MaxInt64)
)

// BandwidthFromBytesAndTimeDelta is the rate that moves bytes in delta.
func BandwidthFromBytesAndTimeDelta(bytes congestion.ByteCount, delta time.Duration) Bandwidth {
	if bytes == 0 {
		return 0
	}
	if delta <= 0 {
		return infiniteBandwidth
	}
	microBits := int64(bytes) * 8 * int64(time.Second/time.Microsecond)
	micros := delta.Microseconds()
	if microBits < micros {
		return 1
	}
	return Bandwidth(microBits / micros)
}

func (b Bandwidth) IsZero() bool {
	return b == 0
}

func (b Bandwidth) IsInfinite() bool {
	return b == infiniteBandwidth
}

// Scale multiplies the rate by gain, saturating at infinity.
func (b Bandwidth) Scale(gain float64) Bandwidth {
	if b.IsInfinite() {
		return b
	}
	scaled := float64(b) * gain
	if scaled >= float64(infiniteBandwidth) {
		return infiniteBandwidth
	}
	return Bandwidth(scaled)
}

func (b Bandwidth) ToBytesPerPeriod(period time.Duration) congestion.ByteCount {
	return congestion.ByteCount(int64(b) * period.Microseconds() / 8 / int64(time.Second/time.Microsecond))
}

func (b Bandwidth) TransferTime(bytes congestion.ByteCount) time.Duration {
	if b == 0 {
		return 0
	}
	return time.Duration(int64(bytes) * 8 * int64(time.Second/time.Microsecond) / int64(b) * int64(time.Microsecond))
}
