/*
 *
 * Copyright 2025 glcs-packetstream authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package packetstream

import (
	"encoding/binary"
	"sync/atomic"
)

// Memory layout constants.
const (
	// On-arena packet header size. A header never straddles the arena wrap.
	headerSize = 16

	// State block size at the head of the buffer region (64-byte aligned).
	stateBlockSize = 192

	// Stats block size, present between state block and arena when
	// statistics are enabled.
	statsBlockSize = 64

	// DefaultBufferSize is the arena size used when the attribute object
	// does not override it.
	DefaultBufferSize = 4 * 1024 * 1024
)

// Flags is the bit set used by buffer attributes, packet opens and DMA
// requests. The three namespaces are distinct; values overlap.
type Flags uint32

// Packet open flags. Open requires exactly one of PacketRead or PacketWrite.
const (
	PacketRead  Flags = 1 << 0
	PacketWrite Flags = 1 << 1
	PacketTry   Flags = 1 << 2

	// packetSizeSet is latched once the final payload length is declared.
	packetSizeSet Flags = 1 << 3
)

// AcceptFakeDMA permits DMA to return a bounce buffer when the requested
// span crosses the arena wrap.
const AcceptFakeDMA Flags = 1 << 0

// Buffer flags. The ready and cancelled bits are owned by the library and
// rejected when set through BufferAttr.
const (
	bufferReady   Flags = 1 << 0
	BufferPShared Flags = 1 << 1
	BufferStats   Flags = 1 << 2

	bufferCancelled Flags = 1 << 3
)

// On-arena packet header flag bits.
const (
	headerWritten uint32 = 1 << 0
	headerRead    uint32 = 1 << 1
)

// stateBlock is the shared control block living at the head of the buffer
// region. All synchronization words are futexes so the block works across
// process boundaries when the region is a shared memory segment. Field order
// is the wire layout; participants attaching an existing segment must agree
// on it out-of-band.
type stateBlock struct {
	flags          uint32   // 0x00: ready/pshared/stats/cancelled
	readMu         uint32   // 0x04: open-read claim mutex
	writeMu        uint32   // 0x08: open-write..set-size claim mutex
	readCloseMu    uint32   // 0x0C: close-read commit walk mutex
	writeCloseMu   uint32   // 0x10: close-write commit walk mutex
	readPackets    uint32   // 0x14: semaphore, packets read and reclaimable
	writtenPackets uint32   // 0x18: semaphore, packets written and readable
	pad            uint32   // 0x1C
	size           uint64   // 0x20: arena size in bytes
	readPos        uint64   // 0x28: oldest packet open for read, or next to read
	writePos       uint64   // 0x30: oldest packet open for write, or next to write
	readNext       uint64   // 0x38: next packet a reader claims on open
	writeNext      uint64   // 0x40: next packet a writer claims on open
	readFirst      uint64   // 0x48: oldest written packet not yet reclaimed
	freeBytes      int64    // 0x50: bytes available to reserve, may go negative
	createTimeNs   int64    // 0x58: monotonic creation timestamp
	reserved       [96]byte // 0x60-0xBF: padding to 192 bytes
}

// stateBlock accessors. Positions are mutated under the respective mutexes;
// atomic access keeps state dumps and cross-process views coherent.

func (s *stateBlock) Flags() Flags {
	return Flags(atomic.LoadUint32(&s.flags))
}

func (s *stateBlock) SetFlags(f Flags) {
	atomic.StoreUint32(&s.flags, uint32(f))
}

// OrFlags sets the given bits, returning the previous flag set.
func (s *stateBlock) OrFlags(f Flags) Flags {
	return Flags(atomicOrUint32(&s.flags, uint32(f)))
}

// atomicOrUint32 atomically ORs mask into *addr, returning the old value.
// Equivalent to sync/atomic.OrUint32, which is unavailable on the Go
// toolchain this module is built with.
func atomicOrUint32(addr *uint32, mask uint32) uint32 {
	for {
		old := atomic.LoadUint32(addr)
		if atomic.CompareAndSwapUint32(addr, old, old|mask) {
			return old
		}
	}
}

func (s *stateBlock) Cancelled() bool {
	return s.Flags()&bufferCancelled != 0
}

func (s *stateBlock) Ready() bool {
	return s.Flags()&bufferReady != 0
}

func (s *stateBlock) Size() uint64 {
	return atomic.LoadUint64(&s.size)
}

func (s *stateBlock) SetSize(size uint64) {
	atomic.StoreUint64(&s.size, size)
}

func (s *stateBlock) ReadPos() uint64 {
	return atomic.LoadUint64(&s.readPos)
}

func (s *stateBlock) SetReadPos(pos uint64) {
	atomic.StoreUint64(&s.readPos, pos)
}

func (s *stateBlock) WritePos() uint64 {
	return atomic.LoadUint64(&s.writePos)
}

func (s *stateBlock) SetWritePos(pos uint64) {
	atomic.StoreUint64(&s.writePos, pos)
}

func (s *stateBlock) ReadNext() uint64 {
	return atomic.LoadUint64(&s.readNext)
}

func (s *stateBlock) SetReadNext(pos uint64) {
	atomic.StoreUint64(&s.readNext, pos)
}

func (s *stateBlock) WriteNext() uint64 {
	return atomic.LoadUint64(&s.writeNext)
}

func (s *stateBlock) SetWriteNext(pos uint64) {
	atomic.StoreUint64(&s.writeNext, pos)
}

func (s *stateBlock) ReadFirst() uint64 {
	return atomic.LoadUint64(&s.readFirst)
}

func (s *stateBlock) SetReadFirst(pos uint64) {
	atomic.StoreUint64(&s.readFirst, pos)
}

func (s *stateBlock) FreeBytes() int64 {
	return atomic.LoadInt64(&s.freeBytes)
}

func (s *stateBlock) AddFreeBytes(n int64) int64 {
	return atomic.AddInt64(&s.freeBytes, n)
}

func (s *stateBlock) CreateTime() int64 {
	return atomic.LoadInt64(&s.createTimeNs)
}

func (s *stateBlock) SetCreateTime(ns int64) {
	atomic.StoreInt64(&s.createTimeNs, ns)
}

// statsBlock holds the run-time counters. It sits between the state block
// and the arena when statistics are enabled.
type statsBlock struct {
	writtenPackets uint64   // 0x00
	writtenBytes   uint64   // 0x08
	readPackets    uint64   // 0x10
	readBytes      uint64   // 0x18
	writeWaitNs    uint64   // 0x20: writer time blocked waiting for reclaimable packets
	readWaitNs     uint64   // 0x28: reader time blocked waiting for written packets
	reserved       [16]byte // 0x30-0x3F: padding to 64 bytes
}

func (s *statsBlock) AddWritten(bytes uint64) {
	atomic.AddUint64(&s.writtenPackets, 1)
	atomic.AddUint64(&s.writtenBytes, bytes)
}

func (s *statsBlock) AddRead(bytes uint64) {
	atomic.AddUint64(&s.readPackets, 1)
	atomic.AddUint64(&s.readBytes, bytes)
}

func (s *statsBlock) AddWriteWait(ns uint64) {
	atomic.AddUint64(&s.writeWaitNs, ns)
}

func (s *statsBlock) AddReadWait(ns uint64) {
	atomic.AddUint64(&s.readWaitNs, ns)
}

func (s *statsBlock) snapshot() Stats {
	return Stats{
		WrittenPackets: atomic.LoadUint64(&s.writtenPackets),
		WrittenBytes:   atomic.LoadUint64(&s.writtenBytes),
		ReadPackets:    atomic.LoadUint64(&s.readPackets),
		ReadBytes:      atomic.LoadUint64(&s.readBytes),
		WriteWaitNs:    atomic.LoadUint64(&s.writeWaitNs),
		ReadWaitNs:     atomic.LoadUint64(&s.readWaitNs),
	}
}

// Stats is a snapshot of the buffer counters.
type Stats struct {
	WrittenPackets uint64
	WrittenBytes   uint64
	ReadPackets    uint64
	ReadBytes      uint64
	WriteWaitNs    uint64
	ReadWaitNs     uint64

	// Utime is the monotonic age of the buffer in nanoseconds.
	Utime uint64
}

// packetHeader is the decoded form of the 16-byte on-arena header:
// flags uint32, padding uint32, payload size uint64. Headers land at
// arbitrary arena offsets, so they are serialized through encoding/binary
// rather than cast in place.
type packetHeader struct {
	flags uint32
	size  uint64
}

func loadHeader(arena []byte, pos uint64) packetHeader {
	return packetHeader{
		flags: binary.LittleEndian.Uint32(arena[pos:]),
		size:  binary.LittleEndian.Uint64(arena[pos+8:]),
	}
}

func storeHeaderFlags(arena []byte, pos uint64, flags uint32) {
	binary.LittleEndian.PutUint32(arena[pos:], flags)
}

func storeHeaderSize(arena []byte, pos uint64, size uint64) {
	binary.LittleEndian.PutUint64(arena[pos+8:], size)
}

func zeroHeader(arena []byte, pos uint64) {
	for i := uint64(0); i < headerSize; i++ {
		arena[pos+i] = 0
	}
}

// movePos computes the offset of the packet following one of the given
// payload size at pos. If the following header cannot fit before the wrap,
// the position resets to 0 and the trailing bytes become padding. Readers
// and writers share this single rule, so both sides agree on where every
// packet ends.
func movePos(pos, bufSize, packetSize uint64) uint64 {
	pos = (pos + headerSize + packetSize) % bufSize
	if pos+headerSize > bufSize {
		pos = 0
	}
	return pos
}
