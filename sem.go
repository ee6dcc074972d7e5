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

import "sync/atomic"

// futexSem is a counting semaphore over a word in the buffer's state block.
// The count directly encodes the number of readable (or reclaimable) packets;
// the in-order commit walks post once per packet made visible.
type futexSem struct {
	word    *uint32
	private bool
}

// post increments the count and wakes one waiter.
func (s *futexSem) post() {
	atomic.AddUint32(s.word, 1)
	futexWake(s.word, 1, s.private)
}

// wait decrements the count, blocking while it is zero. Spurious wakes
// retry; cancellation is delivered by Buffer.Cancel posting a token, so the
// caller must check the cancelled flag after wait returns.
func (s *futexSem) wait() {
	for {
		v := atomic.LoadUint32(s.word)
		if v > 0 {
			if atomic.CompareAndSwapUint32(s.word, v, v-1) {
				return
			}
			continue
		}
		futexWait(s.word, 0, s.private)
	}
}

// tryWait decrements the count if it is positive without blocking.
func (s *futexSem) tryWait() bool {
	for {
		v := atomic.LoadUint32(s.word)
		if v == 0 {
			return false
		}
		if atomic.CompareAndSwapUint32(s.word, v, v-1) {
			return true
		}
	}
}

// value returns the current count, the sem_getvalue analogue used by state
// dumps.
func (s *futexSem) value() int {
	return int(atomic.LoadUint32(s.word))
}
