package verto

import (
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	toneDuration  = 100 * time.Millisecond
	toneGap       = 60 * time.Millisecond
	toneAmplitude = 8000.0
)

// dtmfFreqs maps each key to its (low, high) frequency pair in Hz.
var dtmfFreqs = map[byte][2]float64{
	'1': {697, 1209}, '2': {697, 1336}, '3': {697, 1477}, 'A': {697, 1633},
	'4': {770, 1209}, '5': {770, 1336}, '6': {770, 1477}, 'B': {770, 1633},
	'7': {852, 1209}, '8': {852, 1336}, '9': {852, 1477}, 'C': {852, 1633},
	'*': {941, 1209}, '0': {941, 1336}, '#': {941, 1477}, 'D': {941, 1633},
}

// dtmfTone renders digit as 8kHz PCM followed by gap of silence.
func dtmfTone(digit string, tone, gap time.Duration) ([]int16, error) {
	digit = strings.ToUpper(digit)
	if len(digit) != 1 {
		return nil, fmt.Errorf("invalid dtmf digit %q", digit)
	}
	freqs, ok := dtmfFreqs[digit[0]]
	if !ok {
		return nil, fmt.Errorf("invalid dtmf digit %q", digit)
	}

	toneSamples := int(tone.Seconds() * sampleRate)
	gapSamples := int(gap.Seconds() * sampleRate)
	out := make([]int16, toneSamples+gapSamples)
	for i := 0; i < toneSamples; i++ {
		t := float64(i) / sampleRate
		v := math.Sin(2*math.Pi*freqs[0]*t) + math.Sin(2*math.Pi*freqs[1]*t)
		out[i] = int16(v / 2 * toneAmplitude)
	}
	return out, nil
}
