//go:build linux && (amd64 || arm64)

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

	"golang.org/x/sys/unix"
)

const shmSupported = true

// shmCreate creates a private SysV shared memory segment of the given size
// and returns its id. Fresh segments arrive zero-filled from the kernel.
func shmCreate(size int, mode int) (int, error) {
	id, err := unix.SysvShmGet(unix.IPC_PRIVATE, size, unix.IPC_CREAT|unix.IPC_EXCL|mode)
	if err != nil {
		return -1, fmt.Errorf("shmget: %w", err)
	}
	return id, nil
}

// shmAttach maps the segment into this process.
func shmAttach(id int) ([]byte, error) {
	mem, err := unix.SysvShmAttach(id, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("shmat: %w", err)
	}
	return mem, nil
}

// shmDetach unmaps a previously attached segment.
func shmDetach(mem []byte) error {
	if err := unix.SysvShmDetach(mem); err != nil {
		return fmt.Errorf("shmdt: %w", err)
	}
	return nil
}

// shmRemove marks the segment for destruction once every attach is gone.
func shmRemove(id int) error {
	if _, err := unix.SysvShmCtl(id, unix.IPC_RMID, nil); err != nil {
		return fmt.Errorf("shmctl IPC_RMID: %w", err)
	}
	return nil
}
