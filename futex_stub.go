//go:build !linux || !(amd64 || arm64)

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

import "time"

const futexSupported = false

// futexWait is not supported on this platform.
func futexWait(addr *uint32, val uint32, private bool) error {
	return ErrNotSupported
}

// futexWake is not supported on this platform.
func futexWake(addr *uint32, n int, private bool) (int, error) {
	return 0, ErrNotSupported
}

func monotimeNow() int64 {
	return time.Now().UnixNano()
}
