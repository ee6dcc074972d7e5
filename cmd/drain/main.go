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

// Command drain fills a buffer with packets, dumps its state, drains it and
// prints the statistics. It mirrors the library's intended write/set-size/
// close cycle and doubles as a smoke test for the drain path.
package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/olekukonko/tablewriter"

	packetstream "github.com/lano1106/glcs-packetstream"
)

const (
	bufferSize  = 50 * 1024 * 1024
	packetCount = 50
	packetSize  = 1000
)

func main() {
	attr := packetstream.NewBufferAttr()
	if err := attr.SetFlags(packetstream.BufferStats); err != nil {
		log.Fatalf("set flags: %v", err)
	}
	if err := attr.SetSize(bufferSize); err != nil {
		log.Fatalf("set size: %v", err)
	}

	buffer, err := packetstream.NewBuffer(attr)
	if err != nil {
		log.Fatalf("create buffer: %v", err)
	}
	defer buffer.Destroy()

	packet, err := packetstream.NewPacket(buffer)
	if err != nil {
		log.Fatalf("create packet: %v", err)
	}
	defer packet.Destroy()

	payload := make([]byte, packetSize)

	for i := 0; i < packetCount; i++ {
		if err := packet.Open(packetstream.PacketWrite); err != nil {
			if !errors.Is(err, packetstream.ErrCancelled) {
				log.Printf("open: %v", err)
			}
			break
		}
		if err := packet.SetSize(packetSize); err != nil {
			log.Printf("set size: %v", err)
			if cerr := packet.Cancel(); cerr != nil {
				buffer.Cancel()
				break
			}
			continue
		}
		if err := packet.Write(payload); err != nil {
			log.Printf("write: %v", err)
			buffer.Cancel()
			break
		}
		if err := packet.Close(); err != nil {
			if !errors.Is(err, packetstream.ErrCancelled) {
				log.Printf("close: %v", err)
				buffer.Cancel()
			}
			break
		}
	}

	fmt.Println("Before drain:")
	buffer.StateText(os.Stdout)

	drained, err := buffer.Drain()
	if err != nil {
		log.Fatalf("drain: %v", err)
	}
	fmt.Printf("Have drained %d packets\nAfter drain:\n", drained)
	buffer.StateText(os.Stdout)

	stats, err := buffer.Stats()
	if err != nil {
		log.Fatalf("stats: %v", err)
	}
	printStats(stats)
}

func printStats(s packetstream.Stats) {
	secs := float64(s.Utime) / 1e9
	fmt.Printf("run time: %f secs\n", secs)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"", "Packets", "Bytes", "Wait"})
	table.Append([]string{
		"written",
		fmt.Sprintf("%d", s.WrittenPackets),
		humanBytes(s.WrittenBytes),
		fmt.Sprintf("%.3f ms", float64(s.WriteWaitNs)/1e6),
	})
	table.Append([]string{
		"read",
		fmt.Sprintf("%d", s.ReadPackets),
		humanBytes(s.ReadBytes),
		fmt.Sprintf("%.3f ms", float64(s.ReadWaitNs)/1e6),
	})
	table.Render()
}

func humanBytes(n uint64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.2f GiB", float64(n)/float64(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.2f MiB", float64(n)/float64(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.2f KiB", float64(n)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
