// Package wire implements the on-the-wire packet format: an ACK cursor, a
// NAK descriptor, a checksum, an optional NAK vector, and a sequence of
// reliability chunks. All multi-byte integers are little-endian.
package wire

import (
	"encoding/binary"
	"hash/crc32"
)

const (
	// MaxPacketSize is the hard ceiling on a serialized packet.
	MaxPacketSize = 4096
	// MaxChunkPayload is the largest payload a single chunk may carry.
	MaxChunkPayload = 254
	// ChunkHeaderSize is chunk_number(4B) + chunk_size(1B).
	ChunkHeaderSize = 5
	// PacketHeaderSize is last_continuous(4B) + nak_type(1B) + checksum(1B).
	PacketHeaderSize = 6
	// MaxNakCount is the cap on both sparse-NAK list length and run length.
	MaxNakCount = 127
)

// Chunk is the unit of reliability: a monotone per-connection chunk number,
// its payload length, and the payload bytes themselves.
type Chunk struct {
	Number  int32
	Size    uint8
	Payload []byte
}

// CalcSize returns the serialized size of the chunk including its header.
func (c *Chunk) CalcSize() int {
	return ChunkHeaderSize + len(c.Payload)
}

func (c *Chunk) updateChecksum(crc *uint32) {
	var tmp [8]byte
	binary.LittleEndian.PutUint32(tmp[0:4], uint32(c.Number))
	binary.LittleEndian.PutUint32(tmp[4:8], uint32(c.Size))
	*crc = crc32.Update(*crc, crc32.IEEETable, tmp[:])
	if len(c.Payload) > 0 {
		*crc = crc32.Update(*crc, crc32.IEEETable, c.Payload)
	}
}

// Packet is the wire unit transmitted over the UDP socket.
type Packet struct {
	// LastContinuous is the sender's highest contiguously-received chunk
	// number at send time; -1 means "none yet".
	LastContinuous int32
	// NakType encodes the NAK shape: 0 none, <0 a run of -NakType chunks
	// starting at LastContinuous+1, >0 a sparse list of len(Naks) offsets.
	NakType int8
	Checksum uint8
	// Naks holds NakType offsets (from LastContinuous+1) when NakType > 0.
	Naks   []uint8
	Chunks []*Chunk
}

// NewPacket starts a packet header with no chunks and no NAK vector yet.
func NewPacket(lastContinuous int32, nakType int8) *Packet {
	return &Packet{LastContinuous: lastContinuous, NakType: nakType}
}

// CalcSize returns the serialized size of the whole packet.
func (p *Packet) CalcSize() int {
	size := PacketHeaderSize + len(p.Naks)
	for _, c := range p.Chunks {
		size += c.CalcSize()
	}
	return size
}

// CalcChecksum recomputes the packet's checksum: an 8-bit CRC-32 digest
// over last_continuous, nak_type (widened to u32), the NAK vector, then
// each chunk's number, size (widened to u32), and payload.
func (p *Packet) CalcChecksum() uint8 {
	crc := crc32.IEEETable
	var digest uint32 = 0

	var tmp [8]byte
	binary.LittleEndian.PutUint32(tmp[0:4], uint32(p.LastContinuous))
	binary.LittleEndian.PutUint32(tmp[4:8], uint32(p.NakType))
	digest = crc32.Update(digest, crc, tmp[:])

	if len(p.Naks) > 0 {
		digest = crc32.Update(digest, crc, p.Naks)
	}

	for _, c := range p.Chunks {
		c.updateChecksum(&digest)
	}

	return uint8(digest)
}

// Serialize writes the packet to its wire form.
func (p *Packet) Serialize() []byte {
	buf := make([]byte, 0, p.CalcSize())

	var hdr [6]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(p.LastContinuous))
	hdr[4] = byte(p.NakType)
	hdr[5] = p.Checksum
	buf = append(buf, hdr[:]...)
	buf = append(buf, p.Naks...)

	for _, c := range p.Chunks {
		var chdr [5]byte
		binary.LittleEndian.PutUint32(chdr[0:4], uint32(c.Number))
		chdr[4] = c.Size
		buf = append(buf, chdr[:]...)
		buf = append(buf, c.Payload...)
	}

	return buf
}

// Parse decodes a packet from its wire form. A defective tail (fewer
// bytes remaining than a chunk header needs, or a declared chunk size
// exceeding what remains) truncates parsing rather than erroring; the
// caller's checksum check is what ultimately rejects corrupt datagrams.
func Parse(buf []byte) *Packet {
	p := &Packet{}

	if len(buf) < PacketHeaderSize {
		return p
	}

	p.LastContinuous = int32(binary.LittleEndian.Uint32(buf[0:4]))
	p.NakType = int8(buf[4])
	p.Checksum = buf[5]

	pos := PacketHeaderSize

	if p.NakType > 0 {
		n := int(p.NakType)
		p.Naks = make([]uint8, 0, n)
		for i := 0; i < n; i++ {
			if pos >= len(buf) {
				break
			}
			p.Naks = append(p.Naks, buf[pos])
			pos++
		}
	}

	for len(buf)-pos >= ChunkHeaderSize {
		number := int32(binary.LittleEndian.Uint32(buf[pos : pos+4]))
		size := buf[pos+4]
		pos += ChunkHeaderSize

		if len(buf)-pos < int(size) {
			break
		}

		payload := make([]byte, size)
		copy(payload, buf[pos:pos+int(size)])
		pos += int(size)

		p.Chunks = append(p.Chunks, &Chunk{Number: number, Size: size, Payload: payload})
	}

	return p
}
