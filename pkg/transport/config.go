package transport

import "chunklink/pkg/wire"

// LossFactor scales retransmit aggressiveness and retransmit-queue
// retention policy. MIN resends exactly once per request; MID/MAX keep
// resend-requested entries until acked, resending them repeatedly.
type LossFactor int32

const (
	LossMin LossFactor = 0
	LossMid LossFactor = 1
	LossMax LossFactor = 2
)

func clampLossFactor(f LossFactor) LossFactor {
	switch {
	case f < LossMin:
		return LossMin
	case f > LossMax:
		return LossMax
	default:
		return f
	}
}

// Config holds the tunables a Connection is constructed with. Zero-value
// Config is not usable directly: call DefaultConfig and override fields.
type Config struct {
	MaxTransmissionUnit       int32
	LinkOutgoingBandwidth     int32
	ReconnectTimeSecs         int32
	NetworkTimeoutSecs        int32
	InitialNetworkTimeoutSecs int32
	NetworkLossFactor         LossFactor
	UDPChunksPerSec           int32
}

// DefaultConfig returns the baseline tuning values used when no
// configuration layer overrides them.
func DefaultConfig() Config {
	return Config{
		MaxTransmissionUnit:       1400,
		LinkOutgoingBandwidth:     65536,
		ReconnectTimeSecs:         15,
		NetworkTimeoutSecs:        30,
		InitialNetworkTimeoutSecs: 120,
		NetworkLossFactor:         LossMin,
		UDPChunksPerSec:           30,
	}
}

func clampInt32(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Normalize clamps MTU into [300, wire.MaxPacketSize] and the loss factor
// into [LossMin, LossMax], matching set_max_transmission_unit /
// set_loss_factor in the reference implementation.
func (c Config) Normalize() Config {
	c.MaxTransmissionUnit = clampInt32(c.MaxTransmissionUnit, 300, wire.MaxPacketSize)
	c.NetworkLossFactor = clampLossFactor(c.NetworkLossFactor)
	return c
}
