//go:build !chunklink_netsim

package transport

// Production build: fault injection compiles out entirely.

func newNetSim(seed int64) *netSim { return nil }

type netSim struct{}

func (n *netSim) shouldDrop() bool      { return false }
func (n *netSim) maybeCorrupt(b *uint8) {}
