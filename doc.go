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

// Package packetstream implements a thread-safe variable-sized packet ring
// buffer for high-throughput producer/consumer pipelines between threads, or
// between processes when the buffer is backed by a shared memory segment.
//
// Producers stream self-delimiting packets into a fixed-size circular byte
// arena; consumers receive whole packets in the order the producers claimed
// their slots. Packet lengths vary and need not be known before a writer
// starts streaming bytes into a packet.
//
// Two counting semaphores connect the two sides: one counts packets that have
// been written and may be read, the other counts packets that have been read
// and may be reclaimed. Both semaphores and the four mutexes serializing the
// claim and commit phases are futex words, and they live with the rest of the
// control state inside the buffer's memory region, so the same engine works
// across process boundaries when the region is a shared memory segment.
package packetstream
