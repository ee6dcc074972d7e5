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

// Packet is a per-operation handle for reading or writing one packet. It is
// not safe for concurrent use; each producer or consumer thread owns its own
// handle. A handle may be reused for any number of sequential open/close
// cycles on the same buffer.
type Packet struct {
	buffer    *Buffer
	flags     Flags
	bufferPos uint64
	pos       uint64
	reserved  uint64
	fakeDMA   []fakeDMA
}

// NewPacket returns a packet handle bound to the buffer.
func NewPacket(buffer *Buffer) (*Packet, error) {
	if err := buffer.check(); err != nil {
		return nil, err
	}
	return &Packet{buffer: buffer}, nil
}

// Destroy releases the handle and its bounce buffers. The packet must not be
// open.
func (p *Packet) Destroy() error {
	if p == nil {
		return ErrInvalid
	}
	p.fakeDMA = nil
	p.buffer = nil
	return nil
}

// check validates that the handle is open for use.
func (p *Packet) check() error {
	if p == nil || p.flags&(PacketRead|PacketWrite) == 0 {
		return ErrInvalid
	}
	return p.buffer.check()
}

// Open claims a packet slot. flags must contain exactly one of PacketRead or
// PacketWrite, optionally with PacketTry to turn blocking acquisitions into
// ErrBusy.
//
// A write open holds the buffer's write claim until SetSize (or Close, which
// implies it); a read open releases the read claim before returning, so the
// next reader proceeds in parallel with this packet's consumption.
func (p *Packet) Open(flags Flags) error {
	if p == nil {
		return ErrInvalid
	}
	if err := p.buffer.check(); err != nil {
		return err
	}
	if flags&(PacketRead|PacketWrite) == 0 {
		return ErrInvalid
	}

	if flags&PacketRead != 0 {
		return p.openRead(flags)
	}
	return p.openWrite(flags)
}

func (p *Packet) openRead(flags Flags) error {
	b := p.buffer
	state := b.state

	if flags&PacketTry != 0 {
		if !b.readMu.tryLock() {
			return ErrBusy
		}
	} else {
		b.readMu.lock()
	}
	if state.Cancelled() {
		b.readMu.unlock()
		return ErrCancelled
	}

	if b.stats != nil {
		b.readWaitStart = b.utime()
	}

	if flags&PacketTry != 0 {
		if !b.writtenPackets.tryWait() {
			b.readMu.unlock()
			return ErrBusy
		}
	} else {
		b.writtenPackets.wait()
	}
	if state.Cancelled() {
		b.readMu.unlock()
		return ErrCancelled
	}

	if b.stats != nil {
		b.stats.AddReadWait(b.utime() - b.readWaitStart)
	}

	p.flags = flags &^ PacketTry
	p.bufferPos = state.ReadNext()
	p.pos = 0

	hdr := loadHeader(b.arena, p.bufferPos)
	state.SetReadNext(movePos(p.bufferPos, state.Size(), hdr.size))

	b.readMu.unlock()

	return nil
}

func (p *Packet) openWrite(flags Flags) error {
	b := p.buffer
	state := b.state

	if flags&PacketTry != 0 {
		if !b.writeMu.tryLock() {
			return ErrBusy
		}
	} else {
		b.writeMu.lock()
	}
	if state.Cancelled() {
		b.writeMu.unlock()
		return ErrCancelled
	}

	// The slot at writeNext was reserved by the previous SetSize; clear its
	// header so a stale flag can never leak into the commit walk.
	p.reserved = 0
	p.flags = flags
	p.bufferPos = state.WriteNext()
	p.pos = 0
	zeroHeader(b.arena, p.bufferPos)

	return nil
}

// reserve grows the packet's reservation to total absolute payload bytes,
// reclaiming finished-read packets while the free byte count is negative.
// Blocking on the reclaim semaphore is the producer-side suspension point;
// a PacketTry handle gets ErrBusy instead and the reservation is rolled
// back. On cancellation the write claim is released before returning.
func (p *Packet) reserve(total uint64) error {
	if total <= p.reserved {
		return nil
	}

	b := p.buffer
	state := b.state

	state.AddFreeBytes(-int64(total - p.reserved))
	for state.FreeBytes() < 0 {
		if b.stats != nil {
			b.writeWaitStart = b.utime()
		}

		if p.flags&PacketTry != 0 {
			if !b.readPackets.tryWait() {
				state.AddFreeBytes(int64(total - p.reserved))
				return ErrBusy
			}
		} else {
			b.readPackets.wait()
		}
		// The token may be the cancellation wake rather than a real packet;
		// unwind before touching readFirst.
		if state.Cancelled() {
			b.writeMu.unlock()
			return ErrCancelled
		}

		if b.stats != nil {
			b.stats.AddWriteWait(b.utime() - b.writeWaitStart)
		}

		// Reclaim the oldest read packet, then keep reclaiming greedily for
		// as long as tokens are available without blocking. readCloseMu
		// serializes readFirst against Drain doing the same.
		for {
			b.readCloseMu.lock()
			b.reclaimOne()
			b.readCloseMu.unlock()

			if state.Cancelled() {
				b.writeMu.unlock()
				return ErrCancelled
			}
			if !b.readPackets.tryWait() {
				break
			}
		}
	}

	p.reserved = total
	return nil
}

// SetSize latches the packet's final payload length. Beyond the payload it
// reserves the next header slot (plus any wrap padding), returns over-
// reserved bytes, publishes the length, and releases the write claim so the
// next writer can proceed while this packet's payload is still streaming.
func (p *Packet) SetSize(size int) error {
	if err := p.check(); err != nil {
		return err
	}
	if p.flags&PacketWrite == 0 || p.flags&packetSizeSet != 0 {
		return ErrInvalid
	}

	b := p.buffer
	state := b.state
	psize := uint64(size)

	if size < 0 {
		return ErrInvalid
	}
	if psize+2*headerSize > state.Size() {
		return ErrNoBufferSpace
	}

	// The payload reservation may fail with ErrBusy under PacketTry; it must
	// happen before the try flag is dropped below.
	if err := p.reserve(psize); err != nil {
		return err
	}

	writeNext := (headerSize + state.WriteNext() + psize) % state.Size()
	var padding uint64
	if writeNext+headerSize > state.Size() {
		padding = state.Size() - writeNext
		writeNext = 0
	}

	// The next header slot must be reserved and zeroed unconditionally, so
	// the try flag no longer applies from here on.
	p.flags &^= PacketTry
	if err := p.reserve(headerSize + psize + padding); err != nil {
		return err
	}

	// Return unused reserved bytes.
	state.AddFreeBytes(int64(p.reserved) - int64(psize+headerSize+padding))
	storeHeaderSize(b.arena, p.bufferPos, psize)
	p.flags |= packetSizeSet
	state.SetWriteNext(writeNext)

	zeroHeader(b.arena, writeNext)

	b.writeMu.unlock()

	p.cutFakeDMA(psize)
	return nil
}

// Close finishes the packet. For a write it latches the size if needed,
// commits outstanding bounce buffers, marks the header written and runs the
// in-order commit walk; for a read it marks the header read and runs the
// mirror walk. The walks are what serialize out-of-order closes back into
// the claim order.
func (p *Packet) Close() error {
	if err := p.check(); err != nil {
		return err
	}

	p.flags &^= PacketTry // too late to back out

	if p.flags&PacketRead != 0 {
		return p.closeRead()
	}
	return p.closeWrite()
}

func (p *Packet) closeRead() error {
	b := p.buffer
	state := b.state
	hdr := loadHeader(b.arena, p.bufferPos)

	b.readCloseMu.lock()

	if b.stats != nil {
		b.stats.AddRead(hdr.size)
	}

	storeHeaderFlags(b.arena, p.bufferPos, hdr.flags|headerRead)

	if state.ReadPos() == p.bufferPos {
		pos := p.bufferPos
		size := hdr.size
		for {
			pos = movePos(pos, state.Size(), size)
			b.readPackets.post()

			next := loadHeader(b.arena, pos)
			if next.flags&headerRead == 0 {
				break
			}
			size = next.size
		}
		state.SetReadPos(pos)
	}

	b.readCloseMu.unlock()

	p.freeAllFakeDMA()
	p.flags = 0

	return nil
}

func (p *Packet) closeWrite() error {
	b := p.buffer
	state := b.state

	if p.flags&packetSizeSet == 0 {
		hdr := loadHeader(b.arena, p.bufferPos)
		if err := p.SetSize(int(hdr.size)); err != nil {
			return err
		}
	}

	if err := p.commitFakeDMA(); err != nil {
		return err
	}

	b.writeCloseMu.lock()

	hdr := loadHeader(b.arena, p.bufferPos)
	if b.stats != nil {
		b.stats.AddWritten(hdr.size)
	}

	storeHeaderFlags(b.arena, p.bufferPos, hdr.flags|headerWritten)

	if state.WritePos() == p.bufferPos {
		pos := p.bufferPos
		size := hdr.size
		for {
			pos = movePos(pos, state.Size(), size)
			b.writtenPackets.post()

			next := loadHeader(b.arena, pos)
			if next.flags&headerWritten == 0 {
				break
			}
			size = next.size
		}
		state.SetWritePos(pos)
	}

	b.writeCloseMu.unlock()

	p.flags = 0
	return nil
}

// Cancel abandons an in-progress write before its size is latched,
// returning the reservation to the free byte count and releasing the write
// claim. Read packets and size-set writes cannot be cancelled.
func (p *Packet) Cancel() error {
	if err := p.check(); err != nil {
		return err
	}
	if p.flags&PacketWrite == 0 || p.flags&packetSizeSet != 0 {
		return ErrInvalid
	}

	b := p.buffer
	b.state.AddFreeBytes(int64(p.reserved))
	zeroHeader(b.arena, p.bufferPos)
	b.writeMu.unlock()

	p.freeAllFakeDMA()
	p.flags = 0

	return nil
}

// GetSize returns the packet's current payload length: the declared size for
// a read packet, the high-water mark so far for an unlatched write.
func (p *Packet) GetSize() (int, error) {
	if err := p.check(); err != nil {
		return 0, err
	}
	return int(loadHeader(p.buffer.arena, p.bufferPos).size), nil
}

// Tell returns the payload cursor.
func (p *Packet) Tell() (int, error) {
	if err := p.check(); err != nil {
		return 0, err
	}
	return int(p.pos), nil
}

// Seek moves the payload cursor. On an unlatched write packet, seeking past
// the high-water mark reserves the span and grows the packet.
func (p *Packet) Seek(pos int) error {
	if err := p.check(); err != nil {
		return err
	}

	b := p.buffer
	state := b.state
	ppos := uint64(pos)
	if pos < 0 {
		return ErrInvalid
	}

	hdr := loadHeader(b.arena, p.bufferPos)
	if p.flags&packetSizeSet != 0 || p.flags&PacketRead != 0 {
		if ppos > hdr.size {
			return ErrInvalid
		}
	}

	if p.flags&packetSizeSet == 0 && p.flags&PacketWrite != 0 {
		if ppos+headerSize > state.Size() {
			return ErrInvalid
		}
		if err := p.reserve(ppos); err != nil {
			return err
		}
	}

	p.pos = ppos
	if p.flags&packetSizeSet == 0 && p.flags&PacketWrite != 0 && p.pos > hdr.size {
		storeHeaderSize(b.arena, p.bufferPos, p.pos)
	}

	return nil
}

// Read copies len(dst) payload bytes from the cursor, splitting the copy at
// the arena wrap. Reading past the declared size fails.
func (p *Packet) Read(dst []byte) error {
	if err := p.check(); err != nil {
		return err
	}

	b := p.buffer
	state := b.state
	size := uint64(len(dst))

	hdr := loadHeader(b.arena, p.bufferPos)
	if p.pos+size > hdr.size {
		return ErrInvalid
	}

	offs := (p.bufferPos + headerSize + p.pos) % state.Size()
	n := copy(dst, b.arena[offs:])
	if uint64(n) < size {
		copy(dst[n:], b.arena)
	}

	p.pos += size
	return nil
}

// Write copies len(src) bytes to the cursor, splitting the copy at the
// arena wrap. Before the size is latched the span is reserved on demand and
// the packet grows; afterwards writes must fit the declared size.
func (p *Packet) Write(src []byte) error {
	if err := p.check(); err != nil {
		return err
	}

	b := p.buffer
	state := b.state
	size := uint64(len(src))

	hdr := loadHeader(b.arena, p.bufferPos)
	if p.flags&packetSizeSet != 0 {
		if p.pos+size > hdr.size {
			return ErrInvalid
		}
	} else {
		if p.pos+size+2*headerSize > state.Size() {
			return ErrNoBufferSpace
		}
		if err := p.reserve(p.pos + size); err != nil {
			return err
		}
	}

	offs := (p.bufferPos + headerSize + p.pos) % state.Size()
	n := copy(b.arena[offs:], src)
	if uint64(n) < size {
		copy(b.arena, src[n:])
	}

	p.pos += size
	if p.flags&packetSizeSet == 0 && p.pos > hdr.size {
		storeHeaderSize(b.arena, p.bufferPos, p.pos)
	}

	return nil
}

// DMA returns a buffer of n bytes for zero-copy access at the cursor. When
// the span lies inside the arena without crossing the wrap, the returned
// slice aliases the arena directly. A wrap-crossing span needs AcceptFakeDMA
// in flags, in which case a reusable bounce buffer is returned instead: for
// a read it arrives pre-filled with the span's bytes, for a write its
// contents are copied back into the arena when the packet closes. Without
// AcceptFakeDMA a wrap-crossing request fails with ErrFakeDMARequired.
func (p *Packet) DMA(n int, flags Flags) ([]byte, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, ErrInvalid
	}

	b := p.buffer
	state := b.state
	size := uint64(n)
	writing := p.flags&PacketWrite != 0 && p.flags&packetSizeSet == 0

	hdr := loadHeader(b.arena, p.bufferPos)
	if p.flags&packetSizeSet != 0 || p.flags&PacketRead != 0 {
		if p.pos+size > hdr.size {
			return nil, ErrInvalid
		}
	} else if p.pos+size+2*headerSize > state.Size() {
		return nil, ErrNoBufferSpace
	}

	offs := (p.bufferPos + headerSize + p.pos) % state.Size()

	if offs+size <= state.Size() {
		if writing {
			if err := p.reserve(p.pos + size); err != nil {
				return nil, err
			}
		}
		mem := b.arena[offs : offs+size : offs+size]

		p.pos += size
		if writing && p.pos > hdr.size {
			storeHeaderSize(b.arena, p.bufferPos, p.pos)
		}
		return mem, nil
	}

	if flags&AcceptFakeDMA == 0 {
		return nil, ErrFakeDMARequired
	}

	// The span straddles the wrap; stage it through a bounce buffer.
	if writing {
		if err := p.reserve(p.pos + size); err != nil {
			return nil, err
		}
	}

	fd := p.allocFakeDMA(size)
	fd.pos = p.pos

	if p.flags&PacketRead != 0 {
		// Pre-fill the bounce buffer with the wrapped span.
		m := copy(fd.mem[:size], b.arena[offs:])
		copy(fd.mem[m:size], b.arena)
	}

	p.pos += size
	if writing && p.pos > hdr.size {
		storeHeaderSize(b.arena, p.bufferPos, p.pos)
	}

	return fd.mem[:size], nil
}
