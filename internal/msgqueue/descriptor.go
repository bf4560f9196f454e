// Package msgqueue implements the bounded multi-partition cover-traffic
// message queue (C3) and its wire-format message descriptor.
package msgqueue

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// indexRange bounds the monotonic per-process message index, matching the
// original's MessageFormat.range = 10**5.
const indexRange = 100000

var messageIndex int64

// nextIndex draws the next value from the monotonic per-process counter,
// wrapping modulo indexRange.
func nextIndex() int {
	n := atomic.AddInt64(&messageIndex, 1) - 1
	return int(n % indexRange)
}

// Descriptor is a cover-traffic message descriptor: the seven fields the
// original wire format encodes as space-separated tokens, in order.
type Descriptor struct {
	Relayer     string
	Sender      string
	PacketSize  int
	BatchSize   int
	Index       int
	InnerIndex  int
	TimestampMS int64
}

// NewDescriptor constructs a Descriptor for relayer, drawing Index from the
// shared monotonic counter and Timestamp from the current wall clock.
// BatchSize defaults to 1 and InnerIndex to 1, matching the original.
func NewDescriptor(relayer string) *Descriptor {
	return &Descriptor{
		Relayer:     relayer,
		BatchSize:   1,
		Index:       nextIndex(),
		InnerIndex:  1,
		TimestampMS: time.Now().UnixMilli(),
	}
}

// IncreaseInnerIndex bumps InnerIndex by one, as each serialized copy within
// a send-batch is written.
func (d *Descriptor) IncreaseInnerIndex() { d.InnerIndex++ }

// format renders the seven-token space-separated header, without padding.
func (d *Descriptor) format() string {
	return fmt.Sprintf("%s %s %d %d %d %d %d",
		d.Relayer, d.Sender, d.PacketSize, d.BatchSize, d.Index, d.InnerIndex, d.TimestampMS)
}

// Bytes encodes the descriptor to exactly PacketSize bytes: the header
// UTF-8 encoded, right-padded with 0x00. Returns ErrOversize if the header
// does not fit.
func (d *Descriptor) Bytes() ([]byte, error) {
	raw := []byte(d.format())
	if len(raw) > d.PacketSize {
		return nil, fmt.Errorf("%w: encoded message is %d bytes, exceeds packet_size %d", ErrOversize, len(raw), d.PacketSize)
	}
	out := make([]byte, d.PacketSize)
	copy(out, raw)
	return out, nil
}

// ParseDescriptor decodes a Descriptor from its wire form, trimming NUL
// padding first.
func ParseDescriptor(raw []byte) (*Descriptor, error) {
	trimmed := strings.TrimRight(string(raw), "\x00")
	fields := strings.Fields(trimmed)
	if len(fields) != 7 {
		return nil, fmt.Errorf("%w: expected 7 fields, got %d: %q", ErrMalformed, len(fields), trimmed)
	}

	packetSize, err := strconv.Atoi(fields[2])
	if err != nil {
		return nil, fmt.Errorf("%w: packet_size: %v", ErrMalformed, err)
	}
	batchSize, err := strconv.Atoi(fields[3])
	if err != nil {
		return nil, fmt.Errorf("%w: batch_size: %v", ErrMalformed, err)
	}
	index, err := strconv.Atoi(fields[4])
	if err != nil {
		return nil, fmt.Errorf("%w: index: %v", ErrMalformed, err)
	}
	innerIndex, err := strconv.Atoi(fields[5])
	if err != nil {
		return nil, fmt.Errorf("%w: inner_index: %v", ErrMalformed, err)
	}
	timestamp, err := strconv.ParseInt(fields[6], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: timestamp: %v", ErrMalformed, err)
	}

	return &Descriptor{
		Relayer:     fields[0],
		Sender:      fields[1],
		PacketSize:  packetSize,
		BatchSize:   batchSize,
		Index:       index,
		InnerIndex:  innerIndex,
		TimestampMS: timestamp,
	}, nil
}

// resetIndexForTest is used only by tests to make the monotonic counter
// deterministic across test runs.
func resetIndexForTest() {
	atomic.StoreInt64(&messageIndex, 0)
}
