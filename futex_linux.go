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
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

const futexSupported = true

// Futex operation constants from the Linux kernel UAPI
// (include/uapi/linux/futex.h). golang.org/x/sys/unix does not expose
// these, so they are defined here with their fixed kernel ABI values.
const (
	linuxFutexWait        = 0
	linuxFutexWake        = 1
	linuxFutexPrivateFlag = 128
)

// futexWait waits for the value at addr to change from val. The private
// flag restricts the futex to this process; process-shared buffers must
// clear it so waits and wakes cross the process boundary.
//
// Callers always re-check their logical condition after this returns:
// wakes can be spurious, and EAGAIN/EINTR are normal outcomes.
func futexWait(addr *uint32, val uint32, private bool) error {
	// Re-check atomically before entering the syscall. This closes the
	// lost-wake race where another thread changes the word and wakes us
	// between our snapshot and futex entry.
	if atomic.LoadUint32(addr) != val {
		return nil
	}

	op := uintptr(linuxFutexWait)
	if private {
		op |= linuxFutexPrivateFlag
	}

	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		op,
		uintptr(val),
		0, // timeout: infinite
		0,
		0,
	)

	switch errno {
	case 0, unix.EAGAIN, unix.EINTR:
		return nil
	}
	return fmt.Errorf("futex wait failed: %w", errno)
}

// futexWake wakes up to n waiters blocked on addr and returns the number
// actually woken.
func futexWake(addr *uint32, n int, private bool) (int, error) {
	op := uintptr(linuxFutexWake)
	if private {
		op |= linuxFutexPrivateFlag
	}

	r1, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		op,
		uintptr(n),
		0,
		0,
		0,
	)

	if errno != 0 {
		return 0, fmt.Errorf("futex wake failed: %w", errno)
	}
	return int(r1), nil
}

// monotimeNow returns the CLOCK_MONOTONIC reading in nanoseconds.
func monotimeNow() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return ts.Nano()
}
