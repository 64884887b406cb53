// Package bandwidth tracks outbound byte throughput with a simple
// exponential moving average, used by the connection engine to decide
// whether it is still within its configured outbound byte budget.
package bandwidth

// Tracker is an EMA-based outbound rate estimator. It distinguishes bytes
// already confirmed as queued for the wire from "preliminary" bytes that
// are only tentatively accounted for (used while chunking is still
// deciding how much of the outbound queue to drain), so callers can ask
// for either a conservative or an optimistic estimate.
type Tracker struct {
	lastMs                  int64
	confirmedSinceLast       uint32
	preliminarySinceLast     uint32
	avg                      float64
}

// NewTracker returns a Tracker ready for use. Its confirmed bucket starts
// at 1 byte; every other field starts at zero.
func NewTracker() *Tracker {
	return &Tracker{confirmedSinceLast: 1}
}

// UpdateTime advances the tracker's clock to nowMs. If 100ms or less
// have passed since the last update, this is a no-op: the EMA only
// resamples at a coarse enough granularity to stay meaningful.
func (t *Tracker) UpdateTime(nowMs int64) {
	if nowMs-t.lastMs <= 100 {
		return
	}

	dt := nowMs - t.lastMs
	rate := float64(t.confirmedSinceLast) * 1000.0 / float64(dt)
	t.avg = (9.0*t.avg + rate) / 10.0

	t.confirmedSinceLast = 0
	t.preliminarySinceLast = 0
	t.lastMs = nowMs
}

// DataSent records amount bytes as sent, either into the preliminary
// bucket (tentative, not yet committed to the wire) or the confirmed one.
func (t *Tracker) DataSent(amount uint32, preliminary bool) {
	if preliminary {
		t.preliminarySinceLast += amount
	} else {
		t.confirmedSinceLast += amount
	}
}

// GetAverage returns a cheap upper-bound throughput estimate: the EMA plus
// whichever of the confirmed or (if includePrelim) preliminary buckets is
// larger. It is not an exact average, but good enough to gate pacing.
func (t *Tracker) GetAverage(includePrelim bool) float64 {
	prelim := float64(0)
	if includePrelim {
		prelim = float64(t.preliminarySinceLast)
	}

	confirmed := float64(t.confirmedSinceLast)
	if confirmed > prelim {
		return t.avg + confirmed
	}
	return t.avg + prelim
}
