package verto

import (
	"fmt"
	"math/bits"
	"strings"

	"github.com/pion/webrtc/v4"
)

// G.711 companding for the 8kHz media leg. Outgoing audio is always PCMU,
// incoming audio is whatever the remote side negotiated.

const (
	pcmuBias = 0x84
	pcmuClip = 32635
)

// expansion tables, indexed by the wire byte.
var (
	pcmuTable = buildTable(expandPCMU)
	pcmaTable = buildTable(expandPCMA)
)

func buildTable(expand func(byte) int16) *[256]int16 {
	var t [256]int16
	for i := range t {
		t[i] = expand(byte(i))
	}
	return &t
}

// decodeRemotePayload expands one RTP payload of the given codec to linear
// samples.
func decodeRemotePayload(mimeType string, payload []byte) ([]int16, error) {
	var table *[256]int16
	switch {
	case strings.EqualFold(mimeType, webrtc.MimeTypePCMU):
		table = pcmuTable
	case strings.EqualFold(mimeType, webrtc.MimeTypePCMA):
		table = pcmaTable
	default:
		return nil, fmt.Errorf("unsupported incoming codec: %s", mimeType)
	}
	out := make([]int16, len(payload))
	for i, b := range payload {
		out[i] = table[b]
	}
	return out, nil
}

// encodePCMU compresses linear samples for the outgoing track.
func encodePCMU(samples []int16) []byte {
	out := make([]byte, len(samples))
	for i, v := range samples {
		out[i] = compressPCMU(v)
	}
	return out
}

func compressPCMU(v int16) byte {
	mag, sign := int(v), byte(0)
	if mag < 0 {
		mag, sign = -mag, 0x80
	}
	mag = min(mag, pcmuClip) + pcmuBias

	// biased magnitude lies in [0x84, 0x7fff], so its top bit sits at
	// position 8..15 and the segment is 0..7.
	seg := bits.Len(uint(mag)) - 8
	step := byte(mag>>(seg+3)) & 0x0f
	return ^(sign | byte(seg)<<4 | step)
}

func expandPCMU(b byte) int16 {
	b = ^b
	seg := (b >> 4) & 0x07
	mag := (int(b&0x0f)<<3 + pcmuBias) << seg
	mag -= pcmuBias
	if b&0x80 != 0 {
		return int16(-mag)
	}
	return int16(mag)
}

func expandPCMA(b byte) int16 {
	b ^= 0x55
	seg := (b >> 4) & 0x07
	mag := int(b&0x0f)<<4 + 8
	if seg > 0 {
		mag = (mag + 0x100) << (seg - 1)
	}
	if b&0x80 == 0 {
		return int16(-mag)
	}
	return int16(mag)
}
