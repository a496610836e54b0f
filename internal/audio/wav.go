package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
)

const wavHeaderSize = 44

// WAVHeader represents the canonical 44-byte header of a PCM WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// newWAVHeader builds a mono PCM-16 header for dataSize bytes of samples
func newWAVHeader(sampleRate int, dataSize uint32) WAVHeader {
	const numChannels, bitsPerSample = 1, 16
	return WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * numChannels * bitsPerSample / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
}

// EncodeWAV encodes mono PCM-16 samples into an in-memory WAV file
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(samples)*BytesPerSample))
	header := newWAVHeader(sampleRate, uint32(len(samples)*BytesPerSample))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	buf.Write(EncodePCM16LE(samples))

	return buf.Bytes(), nil
}

// DecodeWAV decodes a mono PCM-16 WAV file back to samples and sample rate
func DecodeWAV(data []byte) ([]int16, int, error) {
	header, err := readWAVHeader(data)
	if err != nil {
		return nil, 0, err
	}

	if header.AudioFormat != 1 {
		return nil, 0, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", header.AudioFormat)
	}
	if header.BitsPerSample != 16 {
		return nil, 0, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", header.BitsPerSample)
	}
	if header.NumChannels != 1 {
		return nil, 0, fmt.Errorf("unsupported channel count: %d (only mono is supported)", header.NumChannels)
	}

	end := wavHeaderSize + int(header.Subchunk2Size)
	if end > len(data) {
		return nil, 0, fmt.Errorf("WAV data truncated: header declares %d bytes, have %d",
			header.Subchunk2Size, len(data)-wavHeaderSize)
	}

	return DecodePCM16LE(data[wavHeaderSize:end]), int(header.SampleRate), nil
}

// WAVInfo describes a WAV file
type WAVInfo struct {
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      uint32  `json:"data_size_bytes"`
	NumSamples    uint32  `json:"num_samples"`
}

// GetWAVInfo extracts metadata from a WAV file header
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	header, err := readWAVHeader(data)
	if err != nil {
		return nil, err
	}
	if header.SampleRate == 0 || header.BitsPerSample < 8 {
		return nil, fmt.Errorf("invalid WAV header: sample rate %d, bit depth %d",
			header.SampleRate, header.BitsPerSample)
	}

	frameSize := uint32(header.BitsPerSample) / 8 * uint32(max(header.NumChannels, 1))
	numSamples := header.Subchunk2Size / frameSize

	return &WAVInfo{
		SampleRate:    header.SampleRate,
		Channels:      header.NumChannels,
		BitsPerSample: header.BitsPerSample,
		Duration:      float64(numSamples) / float64(header.SampleRate),
		DataSize:      header.Subchunk2Size,
		NumSamples:    numSamples,
	}, nil
}

func readWAVHeader(data []byte) (WAVHeader, error) {
	var header WAVHeader
	if len(data) < wavHeaderSize {
		return header, fmt.Errorf("WAV data too short: need at least %d bytes, got %d", wavHeaderSize, len(data))
	}

	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return header, fmt.Errorf("failed to read WAV header: %w", err)
	}

	switch {
	case string(header.ChunkID[:]) != "RIFF":
		return header, fmt.Errorf("invalid WAV file: missing RIFF header")
	case string(header.Format[:]) != "WAVE":
		return header, fmt.Errorf("invalid WAV file: missing WAVE format")
	case string(header.Subchunk1ID[:]) != "fmt ":
		return header, fmt.Errorf("invalid WAV file: missing fmt chunk")
	case string(header.Subchunk2ID[:]) != "data":
		return header, fmt.Errorf("invalid WAV file: missing data chunk")
	}

	return header, nil
}

// WAVRecorder streams captured samples into a WAV file. The header is written
// with a zero data size up front and patched on Close.
type WAVRecorder struct {
	file       io.WriteSeeker
	closer     io.Closer
	sampleRate int
	dataSize   uint32
	closed     bool
	mu         sync.Mutex
}

// CreateWAVRecorder creates (or truncates) path and writes a placeholder header
func CreateWAVRecorder(path string, sampleRate int) (*WAVRecorder, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create WAV file %s: %w", path, err)
	}

	r := &WAVRecorder{file: f, closer: f, sampleRate: sampleRate}
	if err := r.writeHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// WriteSamples appends samples to the data chunk
func (r *WAVRecorder) WriteSamples(samples []int16) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("WAV recorder closed")
	}

	n, err := r.file.Write(EncodePCM16LE(samples))
	r.dataSize += uint32(n)
	if err != nil {
		return fmt.Errorf("failed to write WAV samples: %w", err)
	}
	return nil
}

// Samples returns the number of samples written so far
func (r *WAVRecorder) Samples() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.dataSize) / BytesPerSample
}

// Close patches the header sizes and closes the file. Safe to call twice.
func (r *WAVRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if _, err := r.file.Seek(0, io.SeekStart); err != nil {
		r.closer.Close()
		return fmt.Errorf("failed to rewind WAV file: %w", err)
	}
	if err := r.writeHeader(); err != nil {
		r.closer.Close()
		return err
	}
	return r.closer.Close()
}

func (r *WAVRecorder) writeHeader() error {
	if err := binary.Write(r.file, binary.LittleEndian, newWAVHeader(r.sampleRate, r.dataSize)); err != nil {
		return fmt.Errorf("failed to write WAV header: %w", err)
	}
	return nil
}
