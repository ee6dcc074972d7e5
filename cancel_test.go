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
	"errors"
	"testing"
	"time"
)

// Cancellation must wake a writer blocked in its reservation and a reader
// blocked waiting for packets, and both must unwind with ErrCancelled.
func TestCancelUnblocksWaiters(t *testing.T) {
	b := newTestBuffer(t, 256, 0)

	writerDone := make(chan error, 1)
	go func() {
		p, err := NewPacket(b)
		if err != nil {
			writerDone <- err
			return
		}
		for {
			if err := p.Open(PacketWrite); err != nil {
				writerDone <- err
				return
			}
			// Blocks once the arena fills and nothing is reclaimed.
			if err := p.SetSize(100); err != nil {
				writerDone <- err
				return
			}
			if err := p.Write(make([]byte, 100)); err != nil {
				writerDone <- err
				return
			}
			if err := p.Close(); err != nil {
				writerDone <- err
				return
			}
		}
	}()

	readerDone := make(chan error, 1)
	go func() {
		p, err := NewPacket(b)
		if err != nil {
			readerDone <- err
			return
		}
		for {
			// Never closes, so nothing is ever reclaimed and the writer
			// stays stuck; eventually this blocks on an empty stream.
			if err := p.Open(PacketRead); err != nil {
				readerDone <- err
				return
			}
		}
	}()

	// Let both sides reach their blocking points.
	time.Sleep(200 * time.Millisecond)

	if err := b.Cancel(); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	for name, ch := range map[string]chan error{"writer": writerDone, "reader": readerDone} {
		select {
		case err := <-ch:
			if !errors.Is(err, ErrCancelled) {
				t.Fatalf("%s unwound with %v, want ErrCancelled", name, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("%s did not unblock after cancel", name)
		}
	}
}

func TestCancelledBufferRejectsOperations(t *testing.T) {
	b := newTestBuffer(t, 4096, 0)
	writeTestPacket(t, b, []byte("pending"))

	if err := b.Cancel(); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	p, err := NewPacket(b)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("NewPacket after cancel = %v, want ErrCancelled", err)
	}
	_ = p

	p2 := &Packet{buffer: b}
	if err := p2.Open(PacketRead); !errors.Is(err, ErrCancelled) {
		t.Fatalf("Open after cancel = %v, want ErrCancelled", err)
	}
	if err := p2.Open(PacketWrite); !errors.Is(err, ErrCancelled) {
		t.Fatalf("Open after cancel = %v, want ErrCancelled", err)
	}
	if _, err := b.Drain(); !errors.Is(err, ErrCancelled) {
		t.Fatalf("Drain after cancel = %v, want ErrCancelled", err)
	}

	// Cancellation is terminal; a second cancel reports it too.
	if err := b.Cancel(); !errors.Is(err, ErrCancelled) {
		t.Fatalf("second Cancel = %v, want ErrCancelled", err)
	}

	// Destroy still succeeds after cancellation.
	if err := b.Destroy(); err != nil {
		t.Fatalf("Destroy after cancel failed: %v", err)
	}
}

// An open packet whose buffer is cancelled mid-flight fails its next
// operation instead of touching shared state.
func TestCancelWithOpenPacket(t *testing.T) {
	b := newTestBuffer(t, 4096, 0)

	p, err := NewPacket(b)
	if err != nil {
		t.Fatalf("NewPacket failed: %v", err)
	}
	if err := p.Open(PacketWrite); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := p.Write([]byte("partial")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	if err := b.Cancel(); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	if err := p.Write([]byte("more")); !errors.Is(err, ErrCancelled) {
		t.Fatalf("Write after cancel = %v, want ErrCancelled", err)
	}
	if err := p.Close(); !errors.Is(err, ErrCancelled) {
		t.Fatalf("Close after cancel = %v, want ErrCancelled", err)
	}
}
