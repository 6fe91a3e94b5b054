package congestion_wdctcp

import (
	"math/rand"
	"testing"

	"github.com/sagernet/sing-wdctcp/weight"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWeightedController(t *testing.T, w uint32) (*Controller, *Sock, *weight.MemoryProvider) {
	provider := weight.NewMemoryProvider()
	controller := newTestController(t, DefaultConfig(), provider)
	sk, _ := newTestSock()
	controller.Init(sk)
	require.Equal(t, ModeWeighted, controller.Mode())
	require.NoError(t, provider.Set(controller.state.handle.Name(), w))
	sk.SndSsthresh = 5
	sk.CwndLimited = true
	return controller, sk, provider
}

func TestWeightedGrowthScenario(t *testing.T) {
	t.Run("split", func(t *testing.T) {
		controller, sk, _ := newWeightedController(t, 20000)
		for i := 0; i < 3; i++ {
			controller.CongAvoid(sk, 0, 5)
		}
		// 10 -> 11 on the first call, the second credits 10 < 11, the third
		// converts 20 at window 11
		assert.EqualValues(t, 12, sk.SndCwnd)
		assert.EqualValues(t, 9, sk.SndCwndCnt)
		assert.Zero(t, controller.state.weightAckedCnt)
	})
	t.Run("combined", func(t *testing.T) {
		controller, sk, _ := newWeightedController(t, 20000)
		controller.CongAvoid(sk, 0, 15)
		assert.EqualValues(t, 13, sk.SndCwnd)
		assert.Zero(t, sk.SndCwndCnt)
		assert.Zero(t, controller.state.weightAckedCnt)
	})
}

// Below the window, weighted credit only moves into SndCwndCnt, so split
// and combined calls have to agree exactly.
func TestWeightedCreditConservation(t *testing.T) {
	random := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		controller, sk, provider := newWeightedController(t, 10000)
		sk.SndCwnd = 1000000
		sk.SndCwndClamp = 1000000
		name := controller.state.handle.Name()

		var credit uint64
		for i := 0; i < 200; i++ {
			w := uint32(random.Intn(40000) + 1)
			acked := uint32(random.Intn(64) + 1)
			require.NoError(t, provider.Set(name, w))
			controller.CongAvoid(sk, 0, acked)
			credit += uint64(w) * uint64(acked)
			require.Less(t, controller.state.weightAckedCnt, uint32(DefaultPrecision))
		}
		assert.EqualValues(t, 1000000, sk.SndCwnd)
		assert.EqualValues(t, credit/DefaultPrecision, sk.SndCwndCnt)
		assert.EqualValues(t, credit%DefaultPrecision, controller.state.weightAckedCnt)
	}
}

func TestWeightedSplitMatchesCombined(t *testing.T) {
	split, splitSock, _ := newWeightedController(t, 13337)
	combined, combinedSock, _ := newWeightedController(t, 13337)
	for _, sk := range []*Sock{splitSock, combinedSock} {
		sk.SndCwnd = 100000
		sk.SndCwndClamp = 100000
	}
	var total uint32
	for _, acked := range []uint32{1, 7, 3, 30, 2, 2, 9} {
		split.CongAvoid(splitSock, 0, acked)
		total += acked
	}
	combined.CongAvoid(combinedSock, 0, total)
	assert.Equal(t, *combinedSock, *splitSock)
	assert.Equal(t, combined.state.weightAckedCnt, split.state.weightAckedCnt)
}

func TestWeightedGrowthSlowStart(t *testing.T) {
	controller, sk, _ := newWeightedController(t, 10000)
	sk.SndCwnd = 2
	sk.SndSsthresh = 10
	sk.MaxPacketsOut = 10
	sk.CwndLimited = false

	controller.CongAvoid(sk, 0, 3)
	assert.EqualValues(t, 5, sk.SndCwnd)
	assert.Zero(t, sk.SndCwndCnt)

	controller.CongAvoid(sk, 0, 10)
	assert.EqualValues(t, 10, sk.SndCwnd)
	assert.EqualValues(t, 5, sk.SndCwndCnt)
}

func TestWeightedGrowthNotLimited(t *testing.T) {
	controller, sk, _ := newWeightedController(t, 10000)
	sk.CwndLimited = false
	controller.CongAvoid(sk, 0, 100)
	assert.EqualValues(t, 10, sk.SndCwnd)
	assert.Zero(t, sk.SndCwndCnt)

	sk.SndCwnd = 2
	sk.SndSsthresh = 10
	sk.MaxPacketsOut = 1
	controller.CongAvoid(sk, 0, 100)
	assert.EqualValues(t, 2, sk.SndCwnd)
}

func TestWeightedGrowthBankedCredit(t *testing.T) {
	controller, sk, _ := newWeightedController(t, 10000)
	sk.SndCwndCnt = 15
	controller.CongAvoid(sk, 0, 1)
	assert.EqualValues(t, 11, sk.SndCwnd)
	assert.EqualValues(t, 1, sk.SndCwndCnt)
}

func TestWeightedGrowthClamp(t *testing.T) {
	controller, sk, _ := newWeightedController(t, 1000000)
	sk.SndCwndClamp = 12
	controller.CongAvoid(sk, 0, 100)
	assert.EqualValues(t, 12, sk.SndCwnd)
}

func TestWeightedGrowthWeightRatio(t *testing.T) {
	nominal, nominalSock, _ := newWeightedController(t, 10000)
	double, doubleSock, _ := newWeightedController(t, 20000)
	for i := 0; i < 100; i++ {
		nominal.CongAvoid(nominalSock, 0, nominalSock.SndCwnd)
		double.CongAvoid(doubleSock, 0, doubleSock.SndCwnd)
	}
	assert.EqualValues(t, 110, nominalSock.SndCwnd)
	assert.Greater(t, doubleSock.SndCwnd, uint32(200))
}

func TestSSThresh(t *testing.T) {
	for _, alpha := range []uint32{0, 1, 64, 512, 992, 1023, 1024} {
		config := DefaultConfig()
		config.AlphaOnInit = alpha
		controller := newTestController(t, config, weight.NewMemoryProvider())
		sk, _ := newTestSock()
		controller.Init(sk)
		for _, cwnd := range []uint32{0, 1, 2, 3, 4, 7, 10, 100, 65535, 1 << 31, 0xffffffff} {
			sk.SndCwnd = cwnd
			ssthresh := controller.SSThresh(sk)
			assert.GreaterOrEqual(t, ssthresh, uint32(2), "cwnd %d alpha %d", cwnd, alpha)
			assert.LessOrEqual(t, ssthresh, Max(cwnd, 2))
			assert.Equal(t, cwnd, controller.state.lossCwnd)
		}
	}

	controller := newTestController(t, DefaultConfig(), weight.NewMemoryProvider())
	sk, _ := newTestSock()
	controller.Init(sk)
	sk.SndCwnd = 10
	assert.EqualValues(t, 5, controller.SSThresh(sk))
}

func TestUndoCwnd(t *testing.T) {
	controller := newTestController(t, DefaultConfig(), weight.NewMemoryProvider())
	sk, _ := newTestSock()
	controller.Init(sk)

	sk.SndCwnd = 7
	assert.EqualValues(t, 7, controller.UndoCwnd(sk))

	sk.SndCwnd = 40
	sk.SndSsthresh = controller.SSThresh(sk)
	sk.SndCwnd = sk.SndSsthresh
	assert.EqualValues(t, 40, controller.UndoCwnd(sk))
	sk.SndCwnd = 50
	assert.EqualValues(t, 50, controller.UndoCwnd(sk))
}
