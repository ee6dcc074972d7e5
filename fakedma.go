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

// fakeDMA is a reusable bounce buffer standing in for a direct arena span
// that would cross the wrap. Entries live in a flat per-handle slice with a
// free bit; memory is retained across reuse and only grows.
type fakeDMA struct {
	mem  []byte
	size uint64 // bytes in use
	pos  uint64 // span position within the packet payload
	free bool
}

// allocFakeDMA returns a free entry with capacity for size bytes, growing an
// existing entry or appending a new one as needed. Entries map to disjoint
// payload ranges; cutFakeDMA after SetSize maintains that invariant.
func (p *Packet) allocFakeDMA(size uint64) *fakeDMA {
	var fd *fakeDMA
	for i := range p.fakeDMA {
		if p.fakeDMA[i].free {
			fd = &p.fakeDMA[i]
			break
		}
	}
	if fd == nil {
		p.fakeDMA = append(p.fakeDMA, fakeDMA{})
		fd = &p.fakeDMA[len(p.fakeDMA)-1]
	}

	if uint64(cap(fd.mem)) < size {
		fd.mem = make([]byte, size)
	}
	fd.mem = fd.mem[:cap(fd.mem)]
	fd.free = false
	fd.size = size
	return fd
}

// commitFakeDMA writes every in-use bounce buffer back into the arena at its
// recorded payload position. Entries cover disjoint ranges, so order does
// not matter. Called on the write side before the close commit.
func (p *Packet) commitFakeDMA() error {
	for i := range p.fakeDMA {
		fd := &p.fakeDMA[i]
		if fd.free {
			continue
		}
		if err := p.Seek(int(fd.pos)); err != nil {
			return err
		}
		if err := p.Write(fd.mem[:fd.size]); err != nil {
			return err
		}
		fd.free = true
	}
	return nil
}

// cutFakeDMA drops entries past the latched size and truncates the one
// straddling it, keeping every remaining entry inside the packet.
func (p *Packet) cutFakeDMA(size uint64) {
	for i := range p.fakeDMA {
		fd := &p.fakeDMA[i]
		if fd.pos > size {
			fd.free = true
		} else if fd.pos+fd.size > size {
			fd.size = size - fd.pos
		}
	}
}

// freeAllFakeDMA marks every entry free without committing. Used on the read
// side and on write cancellation; the memory stays allocated for reuse.
func (p *Packet) freeAllFakeDMA() {
	for i := range p.fakeDMA {
		p.fakeDMA[i].free = true
	}
}
