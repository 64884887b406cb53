package wire

import (
	"bytes"
	"testing"
)

func buildSamplePacket() *Packet {
	p := NewPacket(4, -2)
	p.Chunks = []*Chunk{
		{Number: 5, Size: 3, Payload: []byte{1, 2, 3}},
		{Number: 6, Size: 2, Payload: []byte{9, 9}},
	}
	p.Checksum = p.CalcChecksum()
	return p
}

func TestRoundTrip(t *testing.T) {
	p := buildSamplePacket()
	data := p.Serialize()

	got := Parse(data)

	if got.LastContinuous != p.LastContinuous || got.NakType != p.NakType || got.Checksum != p.Checksum {
		t.Fatalf("header mismatch: got %+v, want %+v", got, p)
	}
	if len(got.Chunks) != len(p.Chunks) {
		t.Fatalf("chunk count mismatch: got %d, want %d", len(got.Chunks), len(p.Chunks))
	}
	for i := range p.Chunks {
		if got.Chunks[i].Number != p.Chunks[i].Number {
			t.Errorf("chunk %d number mismatch: got %d want %d", i, got.Chunks[i].Number, p.Chunks[i].Number)
		}
		if !bytes.Equal(got.Chunks[i].Payload, p.Chunks[i].Payload) {
			t.Errorf("chunk %d payload mismatch", i)
		}
	}
}

func TestChecksumRoundTrip(t *testing.T) {
	p := buildSamplePacket()
	data := p.Serialize()
	got := Parse(data)

	if got.CalcChecksum() != p.Checksum {
		t.Fatalf("recomputed checksum %d does not match wire checksum %d", got.CalcChecksum(), p.Checksum)
	}
}

func TestChecksumDetectsCorruption(t *testing.T) {
	p := buildSamplePacket()
	data := p.Serialize()
	data[len(data)-1] ^= 0xFF // corrupt last payload byte

	got := Parse(data)
	if got.CalcChecksum() == got.Checksum {
		t.Fatal("expected checksum mismatch after corruption")
	}
}

func TestParseSparseNakVector(t *testing.T) {
	p := NewPacket(10, 3)
	p.Naks = []uint8{2, 4, 6}
	data := p.Serialize()

	got := Parse(data)
	if got.NakType != 3 || len(got.Naks) != 3 {
		t.Fatalf("nak vector mismatch: %+v", got)
	}
	for i, v := range []uint8{2, 4, 6} {
		if got.Naks[i] != v {
			t.Errorf("nak[%d] = %d, want %d", i, got.Naks[i], v)
		}
	}
}

func TestParseDefectiveTailIgnored(t *testing.T) {
	p := NewPacket(0, 0)
	p.Chunks = []*Chunk{{Number: 1, Size: 10, Payload: make([]byte, 10)}}
	data := p.Serialize()

	// truncate mid-payload
	truncated := data[:len(data)-5]
	got := Parse(truncated)

	if len(got.Chunks) != 0 {
		t.Fatalf("expected defective chunk to be dropped, got %d chunks", len(got.Chunks))
	}
}

func TestParseShortBufferReturnsEmptyHeader(t *testing.T) {
	got := Parse([]byte{1, 2, 3})
	if got.LastContinuous != 0 || len(got.Chunks) != 0 {
		t.Fatalf("expected zero-value packet for undersized buffer, got %+v", got)
	}
}

func TestCalcSizeMatchesSerializedLength(t *testing.T) {
	p := buildSamplePacket()
	if p.CalcSize() != len(p.Serialize()) {
		t.Fatalf("CalcSize() = %d, len(Serialize()) = %d", p.CalcSize(), len(p.Serialize()))
	}
}
