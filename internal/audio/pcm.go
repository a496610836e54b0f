package audio

import "encoding/binary"

const (
	// BytesPerSample is the size of one signed 16-bit PCM sample
	BytesPerSample = 2

	DefaultSampleRate     = 16000
	DefaultChunkSizeBytes = 4096 // 2048 samples, 128ms at 16kHz
)

// DecodePCM16LE converts little-endian signed 16-bit PCM bytes to samples.
// A trailing odd byte is ignored.
func DecodePCM16LE(data []byte) []int16 {
	samples := make([]int16, len(data)/BytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*BytesPerSample:]))
	}
	return samples
}

// EncodePCM16LE converts samples to little-endian signed 16-bit PCM bytes
func EncodePCM16LE(samples []int16) []byte {
	data := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*BytesPerSample:], uint16(s))
	}
	return data
}

// SamplesDuration returns the playback duration of n samples in seconds
func SamplesDuration(n, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(n) / float64(sampleRate)
}
