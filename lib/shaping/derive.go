package shaping

import (
	"math"

	"github.com/c2h5oh/datasize"
)

const (
	// HTBMtuBytes is the packet size assumed for rate-class bucketing. It
	// matches the real-time media workload, not the interface MTU.
	HTBMtuBytes = 1200

	// DefaultQueueLimitPackets is used when no delay is configured.
	DefaultQueueLimitPackets = 1000

	// AssumedPacketSizeBytes is the packet size used to turn a byte rate
	// into a packet rate when sizing the delay queue.
	AssumedPacketSizeBytes = 1500

	// QueueSafetyMargin scales the theoretical in-flight packet count so
	// jitter and bursts do not overflow the queue.
	QueueSafetyMargin = 1.5

	// MinDelayQueueLimitPackets floors the delay queue. Small packets make
	// the 1500 byte assumption optimistic, and a short queue drops packets
	// regardless of the configured loss rate.
	MinDelayQueueLimitPackets = 10000

	// maxQueueLimitPackets is the largest limit the kernel accepts (u32),
	// bounded by int on 32-bit platforms.
	maxQueueLimitPackets = min(math.MaxUint32, math.MaxInt)
)

// Derive computes the backend parameters for p. It is a pure function of p.
func Derive(p *Profile) DerivedParameters {
	d := DerivedParameters{
		QueueLimitPackets: QueueLimitPackets(p.RateKbps, p.DelayMs),
		HTBMtuBytes:       HTBMtuBytes,
	}
	d.BufferBytes = datasize.ByteSize(uint64(d.QueueLimitPackets) * AssumedPacketSizeBytes)
	return d
}

// QueueLimitPackets returns the number of packets the impairment stage must
// hold to delay traffic at rateKbps by delayMs without spurious drops.
func QueueLimitPackets(rateKbps float64, delayMs int) int {
	if delayMs <= 0 {
		return DefaultQueueLimitPackets
	}

	bytesPerSecond := rateKbps * 1000 / 8
	packetsPerSecond := bytesPerSecond / AssumedPacketSizeBytes
	delaySeconds := float64(delayMs) / 1000
	limit := math.Round(packetsPerSecond * delaySeconds * QueueSafetyMargin)

	if limit < MinDelayQueueLimitPackets {
		return MinDelayQueueLimitPackets
	}
	if limit > maxQueueLimitPackets {
		return maxQueueLimitPackets
	}
	return int(limit)
}
