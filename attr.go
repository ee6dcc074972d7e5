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

// ShmCreate is the shmid sentinel requesting a fresh shared memory segment.
const ShmCreate = -1

// BufferAttr carries the construction parameters for NewBuffer.
type BufferAttr struct {
	size    int
	flags   Flags
	shmid   int
	shmMode int
}

// NewBufferAttr returns an attribute object with the defaults: a
// DefaultBufferSize private buffer, segment creation when shared, mode 0600.
func NewBufferAttr() *BufferAttr {
	return &BufferAttr{
		size:    DefaultBufferSize,
		shmid:   ShmCreate,
		shmMode: 0600,
	}
}

// SetSize sets the arena size. The arena must hold at least two packet
// headers.
func (a *BufferAttr) SetSize(size int) error {
	if a == nil || size < 2*headerSize {
		return ErrInvalid
	}
	a.size = size
	return nil
}

// SetFlags sets the buffer flags. Only BufferPShared and BufferStats may be
// set by the caller; the ready and cancelled bits are owned by the library.
func (a *BufferAttr) SetFlags(flags Flags) error {
	if a == nil || flags&^(BufferPShared|BufferStats) != 0 {
		return ErrInvalid
	}
	if flags&BufferPShared != 0 && !shmSupported {
		return ErrNotSupported
	}
	a.flags = flags
	return nil
}

// SetShmid selects an existing shared memory segment to attach instead of
// creating one; it takes effect only together with BufferPShared. Attaching
// skips state initialization; the segment must already hold an initialized
// buffer.
func (a *BufferAttr) SetShmid(id int) error {
	if a == nil {
		return ErrInvalid
	}
	if !shmSupported {
		return ErrNotSupported
	}
	a.shmid = id
	return nil
}

// SetShmMode sets the permission bits used when creating a segment.
func (a *BufferAttr) SetShmMode(mode int) error {
	if a == nil {
		return ErrInvalid
	}
	if !shmSupported {
		return ErrNotSupported
	}
	a.shmMode = mode
	return nil
}
