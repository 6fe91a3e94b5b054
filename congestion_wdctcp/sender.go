package congestion_wdctcp

import (
	"sync"
	"time"

	"github.com/sagernet/quic-go/congestion"
	"github.com/sagernet/quic-go/monotime"
	M "github.com/sagernet/sing/common/metadata"
)

const (
	InitialCongestionWindowPackets = 32
	MaxCongestionWindowPackets     = 10000
	MinCongestionWindowPackets     = 2

	// pacing ratios of the Linux stack, tcp_pacing_ss_ratio and tcp_pacing_ca_ratio
	slowStartPacingGain = 2.0
	congAvoidPacingGain = 1.2

	defaultInitialRTT = 100 * time.Millisecond

	invalidPacketNumber congestion.PacketNumber = -1
)

type SenderOptions struct {
	Options
	InitialMaxDatagramSize         congestion.ByteCount
	InitialCongestionWindowPackets uint32
	MaxCongestionWindowPackets     uint32
	// ECN reports whether the path carries ECN marks.
	ECN        bool
	LocalAddr  M.Socksaddr
	RemoteAddr M.Socksaddr
}

var _ congestion.CongestionControlEx = (*WeightedSender)(nil)

// WeightedSender runs a Controller as a quic-go congestion controller. The
// window is kept in datagrams and the sequence space of the Sock counts
// bytes. CE feedback from the peer is turned into ECE marked ACKs.
type WeightedSender struct {
	access          sync.Mutex
	controller      *Controller
	sock            Sock
	rttStats        congestion.RTTStatsProvider
	pacer           *pacer
	maxDatagramSize congestion.ByteCount
	caState         CAState

	largestSentPacket        congestion.PacketNumber
	largestAckedPacket       congestion.PacketNumber
	largestSentAtLastCutback congestion.PacketNumber

	pendingECE      bool
	ectDisabled     bool
	ackedBytesCarry congestion.ByteCount
}

type senderTransmitter struct {
	sender *WeightedSender
}

// SendAck is never needed on the sending side, quic-go acknowledges
// received packets on its own.
func (t senderTransmitter) SendAck(sk *Sock) {}

func (t senderTransmitter) DisableECT(sk *Sock) {
	t.sender.ectDisabled = true
}

func NewWeightedSender(options SenderOptions) (*WeightedSender, error) {
	controller, err := NewController(options.Options)
	if err != nil {
		return nil, err
	}
	if options.InitialMaxDatagramSize == 0 {
		options.InitialMaxDatagramSize = congestion.InitialPacketSize
	}
	if options.InitialCongestionWindowPackets == 0 {
		options.InitialCongestionWindowPackets = InitialCongestionWindowPackets
	}
	if options.MaxCongestionWindowPackets == 0 {
		options.MaxCongestionWindowPackets = MaxCongestionWindowPackets
	}
	s := &WeightedSender{
		controller:               controller,
		maxDatagramSize:          options.InitialMaxDatagramSize,
		largestSentPacket:        invalidPacketNumber,
		largestAckedPacket:       invalidPacketNumber,
		largestSentAtLastCutback: invalidPacketNumber,
	}
	s.sock = Sock{
		SndCwnd:      Min(options.InitialCongestionWindowPackets, options.MaxCongestionWindowPackets),
		SndSsthresh:  InfiniteSSThresh,
		SndCwndClamp: options.MaxCongestionWindowPackets,
		State:        StateEstablished,
		ECNOK:        options.ECN,
		RcvMSS:       uint32(options.InitialMaxDatagramSize),
		LocalAddr:    options.LocalAddr,
		RemoteAddr:   options.RemoteAddr,
		Transmitter:  senderTransmitter{s},
	}
	s.pacer = newPacer(options.InitialMaxDatagramSize, s.pacingRate)
	controller.Init(&s.sock)
	return s, nil
}

func (s *WeightedSender) SetRTTStatsProvider(provider congestion.RTTStatsProvider) {
	s.access.Lock()
	defer s.access.Unlock()
	s.rttStats = provider
}

func (s *WeightedSender) TimeUntilSend(bytesInFlight congestion.ByteCount) monotime.Time {
	s.access.Lock()
	defer s.access.Unlock()
	return s.pacer.TimeUntilSend()
}

func (s *WeightedSender) HasPacingBudget(now monotime.Time) bool {
	s.access.Lock()
	defer s.access.Unlock()
	return s.pacer.Budget(now) >= s.maxDatagramSize
}

func (s *WeightedSender) OnPacketSent(
	sentTime monotime.Time,
	bytesInFlight congestion.ByteCount,
	packetNumber congestion.PacketNumber,
	bytes congestion.ByteCount,
	isRetransmittable bool,
) {
	s.access.Lock()
	defer s.access.Unlock()
	s.pacer.OnPacketSent(sentTime, bytes)
	if !isRetransmittable {
		return
	}
	s.largestSentPacket = packetNumber
	s.sock.SndNxt += uint32(bytes)
}

func (s *WeightedSender) CanSend(bytesInFlight congestion.ByteCount) bool {
	return bytesInFlight < s.GetCongestionWindow()
}

// MaybeExitSlowStart is not used, slow start ends at ssthresh only.
func (s *WeightedSender) MaybeExitSlowStart() {}

// OnPacketAcked is not used (uses OnCongestionEventEx instead).
func (s *WeightedSender) OnPacketAcked(number congestion.PacketNumber, ackedBytes congestion.ByteCount, priorInFlight congestion.ByteCount, eventTime monotime.Time) {
}

// OnCongestionEvent only handles ECN: quic-go reports newly CE marked
// packets with zero lost bytes before the ACK frame's packets are acked.
// Losses arrive through OnCongestionEventEx.
func (s *WeightedSender) OnCongestionEvent(number congestion.PacketNumber, lostBytes congestion.ByteCount, priorInFlight congestion.ByteCount) {
	if lostBytes != 0 {
		return
	}
	s.access.Lock()
	defer s.access.Unlock()
	s.pendingECE = true
}

func (s *WeightedSender) OnCongestionEventEx(
	priorInFlight congestion.ByteCount,
	eventTime monotime.Time,
	ackedPackets []congestion.AckedPacketInfo,
	lostPackets []congestion.LostPacketInfo,
) {
	s.access.Lock()
	defer s.access.Unlock()
	s.updateCwndLimited(priorInFlight)
	if len(lostPackets) > 0 {
		s.onLoss(lostPackets)
	}
	if len(ackedPackets) > 0 {
		s.onAck(ackedPackets)
	}
}

func (s *WeightedSender) updateCwndLimited(priorInFlight congestion.ByteCount) {
	cwnd := s.congestionWindow()
	s.sock.MaxPacketsOut = uint32((priorInFlight + s.maxDatagramSize - 1) / s.maxDatagramSize)
	if priorInFlight >= cwnd {
		s.sock.CwndLimited = true
		return
	}
	s.sock.CwndLimited = cwnd-priorInFlight <= maxBurstPackets*s.maxDatagramSize
}

func (s *WeightedSender) onLoss(lostPackets []congestion.LostPacketInfo) {
	var lostBytes congestion.ByteCount
	largestLost := invalidPacketNumber
	for _, p := range lostPackets {
		lostBytes += p.BytesLost
		largestLost = Max(largestLost, p.PacketNumber)
	}
	// lost data is sent again in new packets, so it leaves the sequence space
	inFlight := congestion.ByteCount(s.sock.SndNxt - s.sock.SndUna)
	s.sock.SndNxt -= uint32(Min(lostBytes, inFlight))

	if largestLost <= s.largestSentAtLastCutback {
		return
	}
	s.cutback(CARecovery)
}

func (s *WeightedSender) onAck(ackedPackets []congestion.AckedPacketInfo) {
	var ackedBytes congestion.ByteCount
	for _, p := range ackedPackets {
		ackedBytes += p.BytesAcked
		s.largestAckedPacket = Max(s.largestAckedPacket, p.PacketNumber)
	}
	s.sock.SndUna += uint32(ackedBytes)

	var flags AckFlags
	if s.pendingECE {
		s.pendingECE = false
		if !s.ectDisabled {
			flags |= AckECE
		}
	}
	s.controller.InAckEvent(&s.sock, flags)

	windowDone := s.largestAckedPacket > s.largestSentAtLastCutback
	if s.caState != CAOpen && windowDone {
		s.setCAState(CAOpen)
	}
	if flags&AckECE != 0 && windowDone {
		s.cutback(CACWR)
		return
	}
	if s.caState != CAOpen {
		return
	}

	s.ackedBytesCarry += ackedBytes
	segments := s.ackedBytesCarry / s.maxDatagramSize
	if segments == 0 {
		return
	}
	s.ackedBytesCarry -= segments * s.maxDatagramSize
	s.controller.CongAvoid(&s.sock, s.sock.SndUna, uint32(segments))
}

// cutback reduces the window once per window of data.
func (s *WeightedSender) cutback(state CAState) {
	ssthresh := s.controller.SSThresh(&s.sock)
	s.sock.SndSsthresh = ssthresh
	s.sock.SndCwnd = Max(ssthresh, MinCongestionWindowPackets)
	s.sock.SndCwndCnt = 0
	s.ackedBytesCarry = 0
	s.largestSentAtLastCutback = s.largestSentPacket
	s.setCAState(state)
}

func (s *WeightedSender) setCAState(state CAState) {
	s.caState = state
	s.controller.SetState(&s.sock, state)
}

func (s *WeightedSender) OnRetransmissionTimeout(packetsRetransmitted bool) {
	if !packetsRetransmitted {
		return
	}
	s.access.Lock()
	defer s.access.Unlock()
	s.sock.SndSsthresh = s.controller.SSThresh(&s.sock)
	s.sock.SndCwnd = MinCongestionWindowPackets
	s.sock.SndCwndCnt = 0
	s.ackedBytesCarry = 0
	s.largestSentAtLastCutback = s.largestSentPacket
	s.setCAState(CALoss)
}

// SetMaxDatagramSize keeps the window in datagrams, the byte window grows
// with the datagram size.
func (s *WeightedSender) SetMaxDatagramSize(size congestion.ByteCount) {
	s.access.Lock()
	defer s.access.Unlock()
	if size <= s.maxDatagramSize {
		return
	}
	s.maxDatagramSize = size
	s.sock.RcvMSS = uint32(size)
	s.pacer.SetMaxDatagramSize(size)
}

func (s *WeightedSender) InSlowStart() bool {
	s.access.Lock()
	defer s.access.Unlock()
	return s.sock.InSlowStart()
}

func (s *WeightedSender) InRecovery() bool {
	s.access.Lock()
	defer s.access.Unlock()
	return s.caState != CAOpen
}

func (s *WeightedSender) GetCongestionWindow() congestion.ByteCount {
	s.access.Lock()
	defer s.access.Unlock()
	return s.congestionWindow()
}

func (s *WeightedSender) congestionWindow() congestion.ByteCount {
	return congestion.ByteCount(s.sock.SndCwnd) * s.maxDatagramSize
}

// pacingRate is called by the pacer with access held.
func (s *WeightedSender) pacingRate() Bandwidth {
	var rtt time.Duration
	if s.rttStats != nil {
		rtt = s.rttStats.SmoothedRTT()
		if rtt == 0 {
			rtt = s.rttStats.MinRTT()
		}
	}
	if rtt == 0 {
		rtt = defaultInitialRTT
	}
	rate := BandwidthFromBytesAndTimeDelta(s.congestionWindow(), rtt)
	if s.sock.InSlowStart() {
		return rate.Scale(slowStartPacingGain)
	}
	return rate.Scale(congAvoidPacingGain)
}

func (s *WeightedSender) Name() string {
	s.access.Lock()
	defer s.access.Unlock()
	return s.controller.Name()
}

func (s *WeightedSender) Info() Info {
	s.access.Lock()
	defer s.access.Unlock()
	return s.controller.Info()
}

func (s *WeightedSender) Weight() uint32 {
	s.access.Lock()
	defer s.access.Unlock()
	return s.controller.Weight()
}

// ECTDisabled reports whether the controller fell back and asked for
// outgoing packets to stop carrying ECT. The sender only stops counting
// CE feedback; quic-go keeps marking packets ECT, so callers that need
// non-ECT packets must turn ECN off on the connection themselves.
func (s *WeightedSender) ECTDisabled() bool {
	s.access.Lock()
	defer s.access.Unlock()
	return s.ectDisabled
}

// Close releases the weight record of the connection.
func (s *WeightedSender) Close() error {
	s.access.Lock()
	defer s.access.Unlock()
	s.controller.Release(&s.sock)
	return nil
}
