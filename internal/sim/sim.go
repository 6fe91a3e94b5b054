package sim

import (
	"context"
	"sort"
	"time"

	"github.com/sagernet/sing-wdctcp/congestion_wdctcp"
	"github.com/sagernet/sing-wdctcp/weight"
	E "github.com/sagernet/sing/common/exceptions"
	"github.com/sagernet/sing/common/logger"
	M "github.com/sagernet/sing/common/metadata"
)

const (
	DefaultMSS            = 1448
	DefaultCapacity       = 100
	DefaultMarkThreshold  = 20
	DefaultInitialWindow  = 10
	DefaultRounds         = 500
	defaultDelayedAckSegs = 2
)

// FlowOptions describes one sender of the simulation.
type FlowOptions struct {
	Weight uint32
	// DisableECN makes the flow negotiate without ECN, so it runs the Reno
	// fallback and sees drops where others see marks.
	DisableECN bool
}

type Options struct {
	Config congestion_wdctcp.Config
	// Provider holds the weights of the senders. A private memory provider
	// is used when nil.
	Provider weight.Provider
	Logger   logger.ContextLogger
	Flows    []FlowOptions
	Rounds   int
	// Capacity is the number of segments the bottleneck drains per round.
	Capacity int
	// MarkThreshold is the queue length above which ECT segments are CE
	// marked and non-ECT segments are dropped.
	MarkThreshold int
	// Buffer drops any segment arriving to a longer queue. Zero is unlimited.
	Buffer        int
	MSS           uint32
	InitialWindow uint32
	// Interval paces the rounds in wall clock time. Zero runs them back to back.
	Interval time.Duration
}

type FlowResult struct {
	Name      string
	Mode      congestion_wdctcp.Mode
	Weight    uint32
	AvgCwnd   float64
	FinalCwnd uint32
	Alpha     uint32
	Marked    uint64
	Dropped   uint64
	Delivered uint64
	// Share is the fraction of the bottleneck the flow got in the second
	// half of the run.
	Share float64
}

type Result struct {
	Rounds int
	Flows  []FlowResult
}

// Simulator pushes the flows through a single ECN marking bottleneck in
// rounds of one RTT. It owns both ends of every flow and plays the part of
// the transport stack for their controllers.
type Simulator struct {
	options   Options
	logger    logger.ContextLogger
	receivers *weight.MemoryProvider
	flows     []*flow
}

func New(options Options) (*Simulator, error) {
	if len(options.Flows) == 0 {
		return nil, E.New("missing flows")
	}
	if options.Rounds == 0 {
		options.Rounds = DefaultRounds
	}
	if options.Capacity == 0 {
		options.Capacity = DefaultCapacity
	}
	if options.MarkThreshold == 0 {
		options.MarkThreshold = DefaultMarkThreshold
	}
	if options.MSS == 0 {
		options.MSS = DefaultMSS
	}
	if options.InitialWindow == 0 {
		options.InitialWindow = DefaultInitialWindow
	}
	if options.Rounds < 0 || options.Capacity < 0 || options.MarkThreshold < 0 || options.Buffer < 0 {
		return nil, E.New("negative simulation parameter")
	}
	if options.Provider == nil {
		options.Provider = weight.NewMemoryProvider()
	}
	if options.Logger == nil {
		options.Logger = logger.NOP()
	}
	s := &Simulator{
		options:   options,
		logger:    options.Logger,
		receivers: weight.NewMemoryProvider(),
	}
	for index, flowOptions := range options.Flows {
		f, err := s.newFlow(index, flowOptions)
		if err != nil {
			s.Close()
			return nil, E.Cause(err, "create flow ", index)
		}
		s.flows = append(s.flows, f)
	}
	return s, nil
}

func (s *Simulator) newFlow(index int, options FlowOptions) (*flow, error) {
	config := s.options.Config
	if options.Weight != 0 {
		config.WeightOnInit = options.Weight
	}
	sender, err := congestion_wdctcp.NewController(congestion_wdctcp.Options{
		Config:   config,
		Provider: s.options.Provider,
		Logger:   s.logger,
	})
	if err != nil {
		return nil, err
	}
	receiver, err := congestion_wdctcp.NewController(congestion_wdctcp.Options{
		Config:   s.options.Config,
		Provider: s.receivers,
		Logger:   s.logger,
	})
	if err != nil {
		return nil, err
	}
	client := M.ParseSocksaddrHostPort("10.0.0.1", uint16(40000+index))
	server := M.ParseSocksaddrHostPort("10.0.1.1", 5201)
	isn := uint32(index+1) * 0x9e3779b9
	f := &flow{
		mss:      s.options.MSS,
		sender:   sender,
		receiver: receiver,
	}
	f.snd = &congestion_wdctcp.Sock{
		SndCwnd:     s.options.InitialWindow,
		SndSsthresh: congestion_wdctcp.InfiniteSSThresh,
		State:       congestion_wdctcp.StateEstablished,
		ECNOK:       !options.DisableECN,
		SndUna:      isn,
		SndNxt:      isn,
		RcvMSS:      s.options.MSS,
		LocalAddr:   client,
		RemoteAddr:  server,
		Transmitter: senderTransmitter{f},
	}
	f.rcv = &congestion_wdctcp.Sock{
		State:       congestion_wdctcp.StateEstablished,
		ECNOK:       !options.DisableECN,
		RcvNxt:      isn,
		RcvMSS:      s.options.MSS,
		LocalAddr:   server,
		RemoteAddr:  client,
		Transmitter: receiverTransmitter{f},
	}
	sender.Init(f.snd)
	receiver.Init(f.rcv)
	f.name = client.String()
	s.logger.Debug("sim: flow ", f.name, " runs ", sender.Name(), " with weight ", sender.Weight())
	return f, nil
}

// Run plays all rounds, or stops early with the context's error.
func (s *Simulator) Run(ctx context.Context) (*Result, error) {
	var ticker *time.Ticker
	if s.options.Interval > 0 {
		ticker = time.NewTicker(s.options.Interval)
		defer ticker.Stop()
	}
	for round := 0; round < s.options.Rounds; round++ {
		if ticker != nil {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-ticker.C:
			}
		} else if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.round(round >= s.options.Rounds/2)
	}
	return s.result(), nil
}

type segment struct {
	flow *flow
	// position orders the segments of all flows as if each flow spread its
	// window evenly over the round.
	position float64
}

func (s *Simulator) round(measure bool) {
	var segments []segment
	for _, f := range s.flows {
		window := f.snd.SndCwnd
		f.beginRound(window, measure)
		for i := uint32(0); i < window; i++ {
			segments = append(segments, segment{
				flow:     f,
				position: (float64(i) + 0.5) / float64(window),
			})
		}
	}
	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].position < segments[j].position
	})
	for n, seg := range segments {
		queue := n + 1 - s.options.Capacity
		var ce, drop bool
		if s.options.Buffer > 0 && queue > s.options.Buffer {
			drop = true
		} else if queue > s.options.MarkThreshold {
			if seg.flow.ectDisabled {
				drop = true
			} else {
				ce = true
			}
		}
		seg.flow.transmit(ce, drop)
	}
	for _, f := range s.flows {
		f.endRound()
	}
}

func (s *Simulator) result() *Result {
	result := &Result{Rounds: s.options.Rounds}
	var total uint64
	for _, f := range s.flows {
		total += f.measured
	}
	measuredRounds := s.options.Rounds - s.options.Rounds/2
	for _, f := range s.flows {
		info := f.sender.Info()
		flowResult := FlowResult{
			Name:      f.name,
			Mode:      f.sender.Mode(),
			Weight:    f.sender.Weight(),
			FinalCwnd: f.snd.SndCwnd,
			Alpha:     info.Alpha,
			Marked:    f.marked,
			Dropped:   f.dropped,
			Delivered: f.delivered,
		}
		if measuredRounds > 0 {
			flowResult.AvgCwnd = float64(f.cwndSum) / float64(measuredRounds)
		}
		if total > 0 {
			flowResult.Share = float64(f.measured) / float64(total)
		}
		result.Flows = append(result.Flows, flowResult)
	}
	return result
}

// Close releases the weight records of every flow.
func (s *Simulator) Close() error {
	for _, f := range s.flows {
		f.sender.Release(f.snd)
		f.receiver.Release(f.rcv)
	}
	return nil
}
