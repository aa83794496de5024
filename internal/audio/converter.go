package audio

import (
	"math"
)

// Resample converts mono float samples between rates by linear interpolation.
// Quality is adequate for speech going to a 16 kHz recognizer.
func Resample(samples []float32, inputRate, outputRate int) []float32 {
	if inputRate == outputRate || inputRate <= 0 || outputRate <= 0 || len(samples) == 0 {
		return samples
	}

	ratio := float64(outputRate) / float64(inputRate)
	outputLength := len(samples) * outputRate / inputRate
	output := make([]float32, outputLength)

	last := len(samples) - 1
	for i := range output {
		srcPos := float64(i) / ratio
		idx0 := int(srcPos)
		if idx0 > last {
			idx0 = last
		}
		idx1 := idx0 + 1
		if idx1 > last {
			idx1 = last
		}
		fraction := float32(srcPos - float64(idx0))
		output[i] = samples[idx0]*(1-fraction) + samples[idx1]*fraction
	}

	return output
}

// Silence returns the given duration of zero samples at rate
func Silence(rate int, seconds float64) []float32 {
	n := int(float64(rate) * seconds)
	if n < 0 {
		n = 0
	}
	return make([]float32, n)
}

// Int16ToFloat32 converts mono int16 samples, as delivered by
// PortAudio, into normalized floats
func Int16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = int16ToFloat(s)
	}
	return out
}

// Float32ToInt16 converts normalized floats to int16 with clamping
func Float32ToInt16(samples []float32, dst []int16) {
	for i := range dst {
		if i < len(samples) {
			dst[i] = floatToInt16(samples[i])
		} else {
			dst[i] = 0
		}
	}
}

// CalculateRMS calculates the root mean square of float samples
// Useful for detecting audio levels and silence
func CalculateRMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}
