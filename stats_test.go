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
	"testing"
	"time"
)

func TestStatsCounters(t *testing.T) {
	b := newTestBuffer(t, 64*1024, BufferStats)

	for i := 0; i < 3; i++ {
		writeTestPacket(t, b, make([]byte, 500))
	}
	for i := 0; i < 2; i++ {
		readTestPacket(t, b)
	}

	s, err := b.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}

	if s.WrittenPackets != 3 || s.WrittenBytes != 1500 {
		t.Fatalf("written counters = %d pkts / %d bytes, want 3 / 1500",
			s.WrittenPackets, s.WrittenBytes)
	}
	if s.ReadPackets != 2 || s.ReadBytes != 1000 {
		t.Fatalf("read counters = %d pkts / %d bytes, want 2 / 1000",
			s.ReadPackets, s.ReadBytes)
	}
	if s.Utime == 0 {
		t.Fatal("expected non-zero buffer age")
	}
}

func TestStatsDisabled(t *testing.T) {
	b := newTestBuffer(t, 4096, 0)
	if _, err := b.Stats(); err != ErrNotSupported {
		t.Fatalf("Stats on plain buffer = %v, want ErrNotSupported", err)
	}
}

// Time a reader spends blocked on an empty buffer shows up in the read wait
// counter.
func TestStatsReadWait(t *testing.T) {
	b := newTestBuffer(t, 4096, BufferStats)

	type result struct {
		payload []byte
		err     error
	}
	done := make(chan result, 1)
	go func() {
		p, err := NewPacket(b)
		if err != nil {
			done <- result{err: err}
			return
		}
		if err := p.Open(PacketRead); err != nil {
			done <- result{err: err}
			return
		}
		size, err := p.GetSize()
		if err != nil {
			done <- result{err: err}
			return
		}
		payload := make([]byte, size)
		if err := p.Read(payload); err != nil {
			done <- result{err: err}
			return
		}
		done <- result{payload: payload, err: p.Close()}
	}()

	const delay = 50 * time.Millisecond
	time.Sleep(delay)
	writeTestPacket(t, b, []byte("late"))

	select {
	case got := <-done:
		if got.err != nil {
			t.Fatalf("reader failed: %v", got.err)
		}
		if string(got.payload) != "late" {
			t.Fatalf("unexpected payload %q", got.payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reader never unblocked")
	}

	s, err := b.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	// Allow generous scheduling slop below the sleep duration.
	if s.ReadWaitNs < uint64(delay/2) {
		t.Fatalf("read wait %dns, expected at least %dns", s.ReadWaitNs, delay/2)
	}
}
