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

import "errors"

var (
	// ErrInvalid indicates a nil or misused buffer or packet handle, or an
	// argument outside its valid range.
	ErrInvalid = errors.New("packetstream: invalid argument")

	// ErrBusy is returned by try-variant operations when a lock or packet
	// could not be acquired without blocking. No state has changed.
	ErrBusy = errors.New("packetstream: resource busy")

	// ErrNoBufferSpace indicates a packet that can never fit: its payload
	// plus two headers exceeds the arena size.
	ErrNoBufferSpace = errors.New("packetstream: packet does not fit in buffer")

	// ErrFakeDMARequired is returned by DMA when the requested span crosses
	// the arena wrap and the caller did not pass AcceptFakeDMA. The caller
	// may retry with AcceptFakeDMA set.
	ErrFakeDMARequired = errors.New("packetstream: span crosses buffer wrap, fake DMA required")

	// ErrCancelled indicates the buffer has been cancelled. Every blocked
	// operation unwinds with this error, and later packet operations, Drain
	// and Cancel return it; Destroy, Stats, StateText and Shmid still succeed.
	ErrCancelled = errors.New("packetstream: buffer cancelled")

	// ErrNotSupported indicates a feature unavailable in this build or on
	// this platform (shared memory, statistics, futex synchronization).
	ErrNotSupported = errors.New("packetstream: not supported")
)
