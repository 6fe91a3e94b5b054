package congestion_wdctcp

import (
	E "github.com/sagernet/sing/common/exceptions"
)

const (
	// alphaMax is the fixed-point representation of 1.0.
	alphaMax = 1024
	// alphaShiftMax keeps the epoch increment shift (10 - AlphaShift) non-negative.
	alphaShiftMax = 10

	DefaultAlphaShift   = 4
	DefaultAlphaOnInit  = alphaMax
	DefaultPrecision    = 10000
	DefaultWeightOnInit = 10000
)

// Config is fixed for the lifetime of a controller.
type Config struct {
	// AlphaShift is the EWMA gain exponent g, alpha moves by 1/2^g per epoch.
	AlphaShift uint32
	// AlphaOnInit is the starting alpha, 0..1024.
	AlphaOnInit uint32
	// ClampAlphaOnLoss forces alpha to its maximum when the connection enters loss.
	ClampAlphaOnLoss bool
	// Precision is the weight value meaning "one segment per acked segment".
	Precision uint32
	// WeightOnInit is the weight a new connection registers with.
	WeightOnInit uint32
}

func DefaultConfig() Config {
	return Config{
		AlphaShift:   DefaultAlphaShift,
		AlphaOnInit:  DefaultAlphaOnInit,
		Precision:    DefaultPrecision,
		WeightOnInit: DefaultWeightOnInit,
	}
}

func (c Config) Validate() error {
	if c.AlphaShift > alphaShiftMax {
		return E.New("alpha shift out of range: ", c.AlphaShift)
	}
	if c.Precision == 0 {
		return E.New("zero weight precision")
	}
	if c.WeightOnInit == 0 {
		return E.New("zero initial weight")
	}
	return nil
}
