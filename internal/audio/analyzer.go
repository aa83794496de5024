package audio

import (
	"math"
	"math/cmplx"
	"sync"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

const (
	// DefaultFFTSize is the analysis window of a volume tap
	DefaultFFTSize = 64
	// DefaultSmoothing is the time constant blending each reading with the previous one
	DefaultSmoothing = 0.5
	// DefaultVolumeInterval is the analyzer tick period (20 Hz)
	DefaultVolumeInterval = 50 * time.Millisecond

	minDecibels = -100.0
	maxDecibels = -30.0
)

// VolumeSample is one analyzer reading per direction, 0..255
type VolumeSample struct {
	Input  uint8
	Output uint8
}

// Tap is a frequency-domain analysis point on an audio graph. Graphs Write
// the samples flowing through them; the analyzer reads Level on its tick.
type Tap struct {
	window    *SampleWindow
	smoothing float64

	mu       sync.Mutex
	fft      *fourier.FFT
	frame    []float32
	seq      []float64
	coeffs   []complex128
	smoothed []float64
}

// NewTap creates a tap with an fftSize-point window (a power of two works best)
func NewTap(fftSize int, smoothing float64) *Tap {
	if fftSize < 2 {
		fftSize = DefaultFFTSize
	}
	if smoothing < 0 || smoothing >= 1 {
		smoothing = DefaultSmoothing
	}
	return &Tap{
		window:    NewSampleWindow(fftSize),
		smoothing: smoothing,
		fft:       fourier.NewFFT(fftSize),
		frame:     make([]float32, fftSize),
		seq:       make([]float64, fftSize),
		coeffs:    make([]complex128, fftSize/2+1),
		smoothed:  make([]float64, fftSize/2),
	}
}

// Write feeds samples through the tap
func (t *Tap) Write(samples []float32) {
	t.window.Write(samples)
}

// ByteFrequencyData fills dst with one 0..255 magnitude per frequency bin.
// Each call advances the smoothing state by one step.
func (t *Tap) ByteFrequencyData(dst []uint8) []uint8 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.window.Snapshot(t.frame)
	for i, s := range t.frame {
		t.seq[i] = float64(s)
	}
	window.Blackman(t.seq)
	t.coeffs = t.fft.Coefficients(t.coeffs, t.seq)

	n := float64(len(t.seq))
	bins := len(t.smoothed)
	if cap(dst) < bins {
		dst = make([]uint8, bins)
	}
	dst = dst[:bins]

	for k := 0; k < bins; k++ {
		magnitude := cmplx.Abs(t.coeffs[k]) / n
		t.smoothed[k] = t.smoothing*t.smoothed[k] + (1-t.smoothing)*magnitude
		dst[k] = decibelsToByte(20 * math.Log10(t.smoothed[k]))
	}
	return dst
}

// Level returns the mean byte magnitude across all bins
func (t *Tap) Level() uint8 {
	data := t.ByteFrequencyData(nil)
	if len(data) == 0 {
		return 0
	}
	sum := 0
	for _, v := range data {
		sum += int(v)
	}
	return uint8(sum / len(data))
}

// Reset clears buffered samples and smoothing state
func (t *Tap) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.window.Clear()
	for i := range t.smoothed {
		t.smoothed[i] = 0
	}
}

func decibelsToByte(db float64) uint8 {
	if math.IsNaN(db) {
		return 0
	}
	scaled := 255 * (db - minDecibels) / (maxDecibels - minDecibels)
	if scaled <= 0 {
		return 0
	}
	if scaled >= 255 {
		return 255
	}
	return uint8(scaled)
}

// Analyzer reduces an input and an output tap to one VolumeSample per tick
type Analyzer struct {
	interval time.Duration
	onSample func(VolumeSample)

	mu      sync.Mutex
	input   *Tap
	output  *Tap
	started bool
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewAnalyzer creates an analyzer delivering samples to onSample every interval
func NewAnalyzer(interval time.Duration, onSample func(VolumeSample)) *Analyzer {
	if interval <= 0 {
		interval = DefaultVolumeInterval
	}
	return &Analyzer{
		interval: interval,
		onSample: onSample,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Attach sets the taps to read. Either may be nil; that direction reports 0.
func (a *Analyzer) Attach(input, output *Tap) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.input = input
	a.output = output
}

// Sample reads both taps once
func (a *Analyzer) Sample() VolumeSample {
	a.mu.Lock()
	input, output := a.input, a.output
	a.mu.Unlock()

	var s VolumeSample
	if input != nil {
		s.Input = input.Level()
	}
	if output != nil {
		s.Output = output.Level()
	}
	return s
}

// Start begins ticking. It returns false if the analyzer was already started
// or stopped; an analyzer runs at most once.
func (a *Analyzer) Start() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return false
	}
	a.started = true
	go a.loop()
	return true
}

func (a *Analyzer) loop() {
	defer close(a.done)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			select {
			case <-a.stop:
				return
			default:
			}
			sample := a.Sample()
			if a.onSample != nil {
				a.onSample(sample)
			}
		}
	}
}

// Stop cancels the tick loop and waits for it to exit. After Stop returns
// onSample is not called again. Safe to call more than once or before Start.
func (a *Analyzer) Stop() {
	a.mu.Lock()
	wasStarted := a.started
	a.started = true
	a.mu.Unlock()

	a.once.Do(func() { close(a.stop) })
	if wasStarted {
		<-a.done
	} else {
		a.closeDoneOnce()
	}
}

// closeDoneOnce handles Stop before Start: no loop exists to close done
func (a *Analyzer) closeDoneOnce() {
	select {
	case <-a.done:
	default:
		close(a.done)
	}
}
