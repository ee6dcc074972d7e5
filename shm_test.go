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
	"bytes"
	"testing"
)

func TestSharedMemoryAttach(t *testing.T) {
	if !shmSupported {
		t.Skip("shared memory not supported on this platform")
	}

	const arena = 64 * 1024

	attr := NewBufferAttr()
	if err := attr.SetFlags(BufferPShared); err != nil {
		t.Fatalf("SetFlags failed: %v", err)
	}
	if err := attr.SetSize(arena); err != nil {
		t.Fatalf("SetSize failed: %v", err)
	}

	creator, err := NewBuffer(attr)
	if err != nil {
		t.Fatalf("NewBuffer (create) failed: %v", err)
	}
	defer creator.Destroy()

	shmid, err := creator.Shmid()
	if err != nil {
		t.Fatalf("Shmid failed: %v", err)
	}
	if shmid < 0 {
		t.Fatalf("expected a real segment id, got %d", shmid)
	}

	payload := []byte("visible across attaches")
	writeTestPacket(t, creator, payload)

	// A second participant attaches the existing segment; initialization is
	// skipped because the creator already marked the state ready.
	attachAttr := NewBufferAttr()
	if err := attachAttr.SetFlags(BufferPShared); err != nil {
		t.Fatalf("SetFlags failed: %v", err)
	}
	if err := attachAttr.SetSize(arena); err != nil {
		t.Fatalf("SetSize failed: %v", err)
	}
	if err := attachAttr.SetShmid(shmid); err != nil {
		t.Fatalf("SetShmid failed: %v", err)
	}

	attached, err := NewBuffer(attachAttr)
	if err != nil {
		t.Fatalf("NewBuffer (attach) failed: %v", err)
	}
	defer attached.Destroy()

	if got := readTestPacket(t, attached); !bytes.Equal(got, payload) {
		t.Fatalf("attached participant read %q, want %q", got, payload)
	}

	// The flow works both ways through the same arena.
	writeTestPacket(t, attached, []byte("reply"))
	if got := readTestPacket(t, creator); string(got) != "reply" {
		t.Fatalf("creator read %q, want %q", got, "reply")
	}
}

func TestShmidProcessLocal(t *testing.T) {
	b := newTestBuffer(t, 4096, 0)
	id, err := b.Shmid()
	if err != nil {
		t.Fatalf("Shmid failed: %v", err)
	}
	if id != -1 {
		t.Fatalf("process-local buffer shmid = %d, want -1", id)
	}
}
