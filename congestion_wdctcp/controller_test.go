package congestion_wdctcp

import (
	"testing"

	"github.com/sagernet/sing-wdctcp/weight"
	M "github.com/sagernet/sing/common/metadata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentAck struct {
	RcvNxt    uint32
	DemandCWR bool
}

type testTransmitter struct {
	acks        []sentAck
	ectDisabled int
}

func (t *testTransmitter) SendAck(sk *Sock) {
	t.acks = append(t.acks, sentAck{RcvNxt: sk.RcvNxt, DemandCWR: sk.DemandCWR})
}

func (t *testTransmitter) DisableECT(sk *Sock) {
	t.ectDisabled++
}

func newTestSock() (*Sock, *testTransmitter) {
	transmitter := &testTransmitter{}
	return &Sock{
		SndCwnd:      10,
		SndSsthresh:  InfiniteSSThresh,
		SndCwndClamp: 10000,
		State:        StateEstablished,
		ECNOK:        true,
		RcvMSS:       1000,
		LocalAddr:    M.ParseSocksaddrHostPort("10.0.0.1", 40000),
		RemoteAddr:   M.ParseSocksaddrHostPort("10.0.0.2", 5201),
		Transmitter:  transmitter,
	}, transmitter
}

func newTestController(t *testing.T, config Config, provider weight.Provider) *Controller {
	controller, err := NewController(Options{
		Config:   config,
		Provider: provider,
	})
	require.NoError(t, err)
	return controller
}

func TestControllerInit(t *testing.T) {
	provider := weight.NewMemoryProvider()
	controller := newTestController(t, DefaultConfig(), provider)
	sk, transmitter := newTestSock()
	sk.SndUna = 500
	sk.SndNxt = 9000
	sk.RcvNxt = 300
	controller.Init(sk)

	assert.Equal(t, ModeWeighted, controller.Mode())
	assert.Equal(t, NameWeighted, controller.Name())
	assert.Zero(t, transmitter.ectDisabled)
	assert.EqualValues(t, DefaultWeightOnInit, controller.Weight())
	assert.Equal(t, connState{
		priorSndUna: 500,
		priorRcvNxt: 300,
		alpha:       alphaMax,
		nextSeq:     9000,
		handle:      controller.state.handle,
	}, controller.state)

	records, err := provider.List()
	require.NoError(t, err)
	assert.Equal(t, []weight.Record{{Name: "10.0.0.1:40000-10.0.0.2:5201", Weight: DefaultWeightOnInit, References: 1}}, records)
}

func TestControllerInitClampsAlpha(t *testing.T) {
	config := DefaultConfig()
	config.AlphaOnInit = 5000
	controller := newTestController(t, config, weight.NewMemoryProvider())
	sk, _ := newTestSock()
	controller.Init(sk)
	assert.EqualValues(t, alphaMax, controller.Info().Alpha)
}

func TestControllerInitPreHandshake(t *testing.T) {
	for _, state := range []State{StateListen, StateClose} {
		controller := newTestController(t, DefaultConfig(), weight.NewMemoryProvider())
		sk, transmitter := newTestSock()
		sk.ECNOK = false
		sk.State = state
		controller.Init(sk)
		assert.Equal(t, ModeWeighted, controller.Mode())
		assert.Zero(t, transmitter.ectDisabled)
	}
}

type failingProvider struct {
	weight.MemoryProvider
}

func (p *failingProvider) Create(name string, initialWeight uint32) (*weight.Handle, error) {
	return nil, weight.ErrProviderClosed
}

func TestControllerFallback(t *testing.T) {
	closedProvider := weight.NewMemoryProvider()
	closedProvider.Close()

	testCases := []struct {
		name     string
		provider weight.Provider
		setup    func(sk *Sock)
	}{
		{"ecn not negotiated", weight.NewMemoryProvider(), func(sk *Sock) { sk.ECNOK = false }},
		{"syn sent without ecn", weight.NewMemoryProvider(), func(sk *Sock) {
			sk.ECNOK = false
			sk.State = StateSynSent
		}},
		{"missing provider", nil, func(sk *Sock) {}},
		{"closed provider", closedProvider, func(sk *Sock) {}},
		{"provider error", &failingProvider{}, func(sk *Sock) {}},
		{"mixed address family", weight.NewMemoryProvider(), func(sk *Sock) {
			sk.RemoteAddr = M.ParseSocksaddrHostPort("fd00::2", 5201)
		}},
		{"unresolved address", weight.NewMemoryProvider(), func(sk *Sock) {
			sk.RemoteAddr = M.ParseSocksaddrHostPort("example.com", 5201)
		}},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			for i := 0; i < 2; i++ {
				controller := newTestController(t, DefaultConfig(), testCase.provider)
				sk, transmitter := newTestSock()
				testCase.setup(sk)
				controller.Init(sk)

				assert.Equal(t, ModeReno, controller.Mode())
				assert.Equal(t, NameReno, controller.Name())
				assert.Nil(t, controller.state.handle)
				assert.Zero(t, controller.Weight())
				assert.Equal(t, 1, transmitter.ectDisabled)
				assert.Equal(t, Info{}, controller.Info())
			}
		})
	}
}

func TestControllerFallbackIgnoresEvents(t *testing.T) {
	controller := newTestController(t, DefaultConfig(), weight.NewMemoryProvider())
	sk, transmitter := newTestSock()
	sk.ECNOK = false
	controller.Init(sk)

	controller.CwndEvent(sk, EventDelayedAck)
	sk.RcvNxt = 1000
	controller.CwndEvent(sk, EventECNIsCE)
	assert.Empty(t, transmitter.acks)
	assert.False(t, sk.DemandCWR)

	sk.SndUna = 5000
	controller.InAckEvent(sk, AckECE)
	controller.SetState(sk, CALoss)
	assert.Equal(t, Info{}, controller.Info())
}

func TestControllerRelease(t *testing.T) {
	provider := weight.NewMemoryProvider()
	first := newTestController(t, DefaultConfig(), provider)
	second := newTestController(t, DefaultConfig(), provider)

	sk, _ := newTestSock()
	first.Release(sk)

	first.Init(sk)
	second.Init(sk)
	records, err := provider.List()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 2, records[0].References)

	first.Release(sk)
	first.Release(sk)
	records, err = provider.List()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 1, records[0].References)

	second.Release(sk)
	records, err = provider.List()
	require.NoError(t, err)
	assert.Empty(t, records)

	fallback := newTestController(t, DefaultConfig(), provider)
	sk.ECNOK = false
	fallback.Init(sk)
	fallback.Release(sk)
	fallback.Release(sk)
}

func TestControllerReinit(t *testing.T) {
	provider := weight.NewMemoryProvider()
	controller := newTestController(t, DefaultConfig(), provider)
	sk, _ := newTestSock()
	controller.Init(sk)
	controller.Init(sk)
	records, err := provider.List()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 1, records[0].References)
}

func TestControllerSetState(t *testing.T) {
	config := DefaultConfig()
	config.AlphaOnInit = 0
	config.ClampAlphaOnLoss = true
	controller := newTestController(t, config, weight.NewMemoryProvider())
	sk, _ := newTestSock()
	controller.Init(sk)

	controller.SetState(sk, CARecovery)
	assert.Zero(t, controller.Info().Alpha)
	controller.SetState(sk, CALoss)
	assert.EqualValues(t, alphaMax, controller.Info().Alpha)

	config.ClampAlphaOnLoss = false
	controller = newTestController(t, config, weight.NewMemoryProvider())
	controller.Init(sk)
	controller.SetState(sk, CALoss)
	assert.Zero(t, controller.Info().Alpha)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	config := DefaultConfig()
	config.AlphaShift = 11
	assert.Error(t, config.Validate())

	config = DefaultConfig()
	config.Precision = 0
	assert.Error(t, config.Validate())

	_, err := NewController(Options{Config: config})
	assert.Error(t, err)

	config = DefaultConfig()
	config.WeightOnInit = 0
	assert.Error(t, config.Validate())

	config = DefaultConfig()
	config.AlphaShift = 10
	assert.NoError(t, config.Validate())
}
