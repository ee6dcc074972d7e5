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
	"fmt"
	"io"
	"unsafe"
)

// Buffer is a packet ring buffer. The region holding its control block and
// arena is either a process-local allocation or an attached shared memory
// segment; all coordination state lives inside the region, so any number of
// threads or processes mapping it can produce and consume packets.
type Buffer struct {
	mem   []byte
	state *stateBlock
	stats *statsBlock // nil unless BufferStats
	arena []byte
	shmid int
	// attached is set when mem is a shared memory segment.
	attached bool

	readMu       futexMutex
	writeMu      futexMutex
	readCloseMu  futexMutex
	writeCloseMu futexMutex

	// readPackets counts packets read and reclaimable; writtenPackets counts
	// packets written and readable.
	readPackets    futexSem
	writtenPackets futexSem

	// Wait-start timestamps for the statistics; the read one is guarded by
	// readMu, the write one by writeMu.
	readWaitStart  uint64
	writeWaitStart uint64
}

// NewBuffer creates a buffer from the given attributes, or attaches an
// existing shared segment when attr has BufferPShared set and carries a
// concrete shmid; without BufferPShared the shmid is ignored. Attaching
// skips initialization; the creator's layout (stats on or off, arena size)
// must match out-of-band.
func NewBuffer(attr *BufferAttr) (*Buffer, error) {
	if attr == nil {
		return nil, ErrInvalid
	}
	if !futexSupported {
		return nil, ErrNotSupported
	}

	flags := attr.flags
	statsSize := 0
	if flags&BufferStats != 0 {
		statsSize = statsBlockSize
	}
	total := stateBlockSize + statsSize + attr.size

	b := &Buffer{shmid: -1}

	if flags&BufferPShared != 0 {
		shmid := attr.shmid
		if shmid == ShmCreate {
			var err error
			if shmid, err = shmCreate(total, attr.shmMode); err != nil {
				return nil, err
			}
		} else {
			// The segment is already initialized by its creator.
			flags |= bufferReady
		}

		mem, err := shmAttach(shmid)
		if err != nil {
			return nil, err
		}
		b.mem = mem[:total]
		b.shmid = shmid
		b.attached = true
	} else {
		// Back the region with a uint64 slab so the atomic fields in the
		// state block are 8-byte aligned.
		words := make([]uint64, (total+7)/8)
		b.mem = unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), total)
	}

	b.state = (*stateBlock)(unsafe.Pointer(&b.mem[0]))
	if statsSize != 0 {
		b.stats = (*statsBlock)(unsafe.Pointer(&b.mem[stateBlockSize]))
	}
	b.arena = b.mem[stateBlockSize+statsSize:]

	private := flags&BufferPShared == 0
	b.readMu = futexMutex{&b.state.readMu, private}
	b.writeMu = futexMutex{&b.state.writeMu, private}
	b.readCloseMu = futexMutex{&b.state.readCloseMu, private}
	b.writeCloseMu = futexMutex{&b.state.writeCloseMu, private}
	b.readPackets = futexSem{&b.state.readPackets, private}
	b.writtenPackets = futexSem{&b.state.writtenPackets, private}

	if flags&bufferReady != 0 {
		return b, nil
	}

	b.state.SetSize(uint64(attr.size))
	b.state.AddFreeBytes(int64(attr.size) - headerSize)
	b.state.SetCreateTime(monotimeNow())
	b.state.SetFlags(flags | bufferReady)

	return b, nil
}

// Destroy releases the buffer's resources. In shared mode it detaches and
// removes the segment. The caller is responsible for ensuring no other
// participant still holds an open packet; that is not synchronized here.
func (b *Buffer) Destroy() error {
	if b == nil || b.mem == nil {
		return ErrInvalid
	}

	var firstErr error
	if b.attached {
		if err := shmDetach(b.mem[:cap(b.mem)]); err != nil {
			firstErr = err
		}
		// Another participant may already have marked the segment for
		// removal; that is not an error here.
		shmRemove(b.shmid)
	}

	b.mem = nil
	b.state = nil
	b.stats = nil
	b.arena = nil
	return firstErr
}

// check validates the buffer for use by an operation.
func (b *Buffer) check() error {
	if b == nil || b.state == nil || !b.state.Ready() {
		return ErrInvalid
	}
	if b.state.Cancelled() {
		return ErrCancelled
	}
	return nil
}

// Cancel moves the buffer into its terminal cancelled state. Both semaphores
// are posted so any blocked reader or writer wakes, observes the flag, and
// unwinds releasing whatever it holds. No mutex is touched from here; each
// blocked operation rechecks the flag itself after wake. After cancellation
// packet operations, Drain and Cancel fail with ErrCancelled and Destroy
// succeeds; Stats, StateText and Shmid do not check the flag and keep
// reporting.
func (b *Buffer) Cancel() error {
	if err := b.check(); err != nil {
		return err
	}

	b.state.OrFlags(bufferCancelled)

	b.writtenPackets.post()
	b.readPackets.post()

	return nil
}

// Drain marks every currently readable packet as read without exposing its
// contents and reclaims its space, along with any backlog of already-read
// packets waiting to be reclaimed. Returns the number of packets drained.
// A second Drain with no intervening writes returns 0.
func (b *Buffer) Drain() (int, error) {
	if err := b.check(); err != nil {
		return 0, err
	}

	b.readMu.lock()
	b.readCloseMu.lock()

	drained := 0
	for b.writtenPackets.tryWait() {
		pos := b.state.ReadNext()
		hdr := loadHeader(b.arena, pos)
		storeHeaderFlags(b.arena, pos, hdr.flags|headerRead)
		b.state.SetReadNext(movePos(pos, b.state.Size(), hdr.size))
		if b.state.ReadPos() == pos {
			b.readPackets.post()
			b.state.SetReadPos(b.state.ReadNext())
		}
		drained++
	}

	// Consume the reclaim tokens, ours and any left by earlier reads, so
	// the space comes back immediately instead of at the next writer
	// reservation.
	for b.readPackets.tryWait() {
		b.reclaimOne()
	}

	b.readCloseMu.unlock()
	b.readMu.unlock()

	return drained, nil
}

// reclaimOne credits the oldest read packet back to the free byte count and
// advances readFirst past it. When the new position cannot hold a header
// before the wrap, the tail bytes are credited as padding and readFirst
// resets to 0. The caller holds readCloseMu and has consumed one
// readPackets token.
func (b *Buffer) reclaimOne() {
	state := b.state
	readFirst := state.ReadFirst()
	hdr := loadHeader(b.arena, readFirst)

	state.AddFreeBytes(int64(headerSize + hdr.size))
	readFirst = (readFirst + headerSize + hdr.size) % state.Size()
	if readFirst+headerSize > state.Size() {
		state.AddFreeBytes(int64(state.Size() - readFirst))
		readFirst = 0
	}
	state.SetReadFirst(readFirst)
}

// Stats returns a snapshot of the counters plus the buffer's monotonic age.
func (b *Buffer) Stats() (Stats, error) {
	if b == nil || b.state == nil {
		return Stats{}, ErrInvalid
	}
	if b.stats == nil {
		return Stats{}, ErrNotSupported
	}

	s := b.stats.snapshot()
	s.Utime = b.utime()
	return s, nil
}

// Shmid returns the id of the backing shared memory segment, or -1 for a
// process-local buffer.
func (b *Buffer) Shmid() (int, error) {
	if b == nil || b.state == nil {
		return -1, ErrInvalid
	}
	return b.shmid, nil
}

// StateText writes a human-readable dump of the buffer state: the position
// pointers, the free byte count, and the count and byte sum of unread and
// pending-free packets.
func (b *Buffer) StateText(w io.Writer) error {
	if b == nil || b.state == nil || w == nil {
		return ErrInvalid
	}

	fmt.Fprintf(w, "size: %d, read_pos: %d, write_pos: %d\n"+
		"read_next: %d, write_next: %d, read_first: %d\n"+
		"free_bytes: %d\n",
		b.state.Size(), b.state.ReadPos(), b.state.WritePos(),
		b.state.ReadNext(), b.state.WriteNext(), b.state.ReadFirst(),
		b.state.FreeBytes())

	numPkts, numBytes := b.walkPackets(b.state.ReadNext(), b.writtenPackets.value())
	fmt.Fprintf(w, "unread packets: %d, num_bytes: %d\n", numPkts, numBytes)

	numPkts, numBytes = b.walkPackets(b.state.ReadFirst(), b.readPackets.value())
	fmt.Fprintf(w, "pending free packets: %d, num_bytes: %d\n", numPkts, numBytes)

	return nil
}

// walkPackets follows the framing chain from pos over count packets and
// returns the count and payload byte sum.
func (b *Buffer) walkPackets(pos uint64, count int) (int, uint64) {
	var bytes uint64
	for i := 0; i < count; i++ {
		hdr := loadHeader(b.arena, pos)
		bytes += hdr.size
		pos = movePos(pos, b.state.Size(), hdr.size)
	}
	return count, bytes
}

// utime returns nanoseconds elapsed since the buffer was created.
func (b *Buffer) utime() uint64 {
	return uint64(monotimeNow() - b.state.CreateTime())
}
