package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	// CaptureSampleRate is the rate outbound microphone frames are encoded at
	CaptureSampleRate = 16000
	// PlaybackSampleRate is the rate of agent audio received from the live session
	PlaybackSampleRate = 24000

	pcmMIMEPrefix = "audio/pcm;rate="
)

// ErrMalformedFrame is returned by Decode for payloads that are not whole 16-bit samples
var ErrMalformedFrame = errors.New("malformed pcm16 frame")

// Frame is 16-bit little-endian mono PCM tagged with its media type
type Frame struct {
	Data       []byte
	MIMEType   string
	SampleRate int
}

// Chunk is a block of decoded float samples in [-1, 1]
type Chunk struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the playback length of the chunk
func (c Chunk) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.SampleRate)
}

// Seconds returns the playback length in seconds on an audio clock
func (c Chunk) Seconds() float64 {
	if c.SampleRate <= 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate)
}

// MIMEType returns the media type for raw PCM at rate
func MIMEType(rate int) string {
	return pcmMIMEPrefix + strconv.Itoa(rate)
}

// ParseRate extracts the sample rate from an "audio/pcm;rate=N" media type
func ParseRate(mimeType string) (int, bool) {
	idx := strings.Index(mimeType, "rate=")
	if idx < 0 {
		return 0, false
	}
	rest := mimeType[idx+len("rate="):]
	if end := strings.IndexByte(rest, ';'); end >= 0 {
		rest = rest[:end]
	}
	rate, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil || rate <= 0 {
		return 0, false
	}
	return rate, true
}

// Encode converts float samples to a PCM16 frame. Values outside [-1, 1] are
// clamped and NaN is encoded as silence. Negative values scale by 32768 and
// positive by 32767 so both ends of the int16 range are reachable.
func Encode(samples []float32, sampleRate int) Frame {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(floatToInt16(s)))
	}
	return Frame{
		Data:       data,
		MIMEType:   MIMEType(sampleRate),
		SampleRate: sampleRate,
	}
}

// Decode converts a PCM16 frame back to float samples
func Decode(frame Frame) (Chunk, error) {
	rate := frame.SampleRate
	if rate <= 0 {
		if parsed, ok := ParseRate(frame.MIMEType); ok {
			rate = parsed
		} else {
			rate = PlaybackSampleRate
		}
	}
	samples, err := DecodePCM(frame.Data)
	if err != nil {
		return Chunk{}, err
	}
	return Chunk{Samples: samples, SampleRate: rate}, nil
}

// DecodePCM converts raw little-endian PCM16 bytes to float samples
func DecodePCM(data []byte) ([]float32, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedFrame, len(data))
	}
	samples := make([]float32, len(data)/2)
	for i := range samples {
		samples[i] = int16ToFloat(int16(binary.LittleEndian.Uint16(data[i*2:])))
	}
	return samples, nil
}

func floatToInt16(s float32) int16 {
	v := float64(s)
	if math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	if v < 0 {
		return int16(math.Round(v * 32768))
	}
	return int16(math.Round(v * 32767))
}

func int16ToFloat(v int16) float32 {
	if v < 0 {
		return float32(v) / 32768
	}
	return float32(v) / 32767
}
