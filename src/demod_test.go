package skywave

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolarDiscFast(t *testing.T) {
	// A constant phase step of theta per sample demodulates to roughly
	// theta/pi, within fast_atan2's 0.08 rad approximation error.
	var theta = 0.3
	var pr = float32(math.Cos(0))
	var pj = float32(math.Sin(0))
	var ar = float32(math.Cos(theta))
	var aj = float32(math.Sin(theta))

	var out = polar_disc_fast(ar, aj, pr, pj)
	assert.InDelta(t, theta/math.Pi, out, 0.08/math.Pi)
}

func TestQuadriDemod(t *testing.T) {
	// same phase-step property, with the quadri correlator's 1/(r^2+1)
	// amplitude term at unit magnitude
	var theta = 0.2
	var pr = float32(math.Cos(0))
	var pj = float32(math.Sin(0))
	var ar = float32(math.Cos(theta))
	var aj = float32(math.Sin(theta))

	var out = fm_quadri_demod(ar, aj, pr, pj)
	// (br*aj - ar*bj) = sin(theta); denominator = 2
	assert.InDelta(t, math.Sin(theta)/2/math.Pi, out, 1e-3)
}

func TestBlackman7WindowShape(t *testing.T) {
	reset_globals(t)
	fft_size = 512

	var window = blackman_7_window()
	require.Len(t, window, 512)

	// symmetric, peaked in the middle, near zero at the edges
	assert.InDelta(t, 1.0, window[255]/window[256], 0.05)
	assert.Less(t, window[0], 1e-4)
	assert.Less(t, window[511], 1e-4)
	var peak = window[256]
	assert.InDelta(t, 1.0, peak, 0.01)
	for i := 0; i < 256; i++ {
		require.InDelta(t, window[i], window[511-i], 1e-9)
	}
}

func make_afc_fft(mags map[int]float64) []complex128 {
	var out = make([]complex128, fft_size)
	for bin, m := range mags {
		out[bin] = complex(math.Sqrt(m), 0)
	}
	return out
}

func TestAFCSnapsUpAndRestores(t *testing.T) {
	reset_globals(t)
	fft_size = 512

	var channel = &channel_t{afc: 2}
	init_channel_buffers(channel)
	var freqlist, _ = mk_freqlist(1)
	channel.freqlist = freqlist

	var dev = &device_t{
		channels:  []*channel_t{channel},
		base_bins: []int{100},
		bins:      []int{100},
	}

	// bins 101-103 stay above the base by more than the growing threshold
	// (the peak is at 102), then bin 104 collapses
	var fftout = make_afc_fft(map[int]float64{
		100: 1.0, 101: 2.0, 102: 4.0, 103: 3.0, 104: 0.1,
	})

	// squelch just opened
	var afc = afc_t{prev_axcindicate: NO_SIGNAL}
	channel.set_axcindicate(SIGNAL)
	afc.finalize(dev, 0, fftout)

	assert.Equal(t, 103, dev.bins[0])
	assert.Equal(t, AFC_UP, channel.get_axcindicate())

	// signal disappears: bin snaps back to base
	afc = afc_t{prev_axcindicate: SIGNAL}
	channel.set_axcindicate(NO_SIGNAL)
	afc.finalize(dev, 0, fftout)
	assert.Equal(t, 100, dev.bins[0])
}

func TestAFCWalksDown(t *testing.T) {
	reset_globals(t)
	fft_size = 512

	var channel = &channel_t{afc: 2}
	init_channel_buffers(channel)
	var freqlist, _ = mk_freqlist(1)
	channel.freqlist = freqlist

	var dev = &device_t{
		channels:  []*channel_t{channel},
		base_bins: []int{100},
		bins:      []int{100},
	}

	var fftout = make_afc_fft(map[int]float64{
		100: 1.0, 99: 3.0, 98: 0.5,
	})

	var afc = afc_t{prev_axcindicate: NO_SIGNAL}
	channel.set_axcindicate(SIGNAL)
	afc.finalize(dev, 0, fftout)

	assert.Equal(t, 99, dev.bins[0])
	assert.Equal(t, AFC_DOWN, channel.get_axcindicate())
}

func TestAFCDisabledDoesNothing(t *testing.T) {
	reset_globals(t)
	fft_size = 512

	var channel = &channel_t{afc: 0}
	init_channel_buffers(channel)
	var freqlist, _ = mk_freqlist(1)
	channel.freqlist = freqlist

	var dev = &device_t{
		channels:  []*channel_t{channel},
		base_bins: []int{100},
		bins:      []int{100},
	}
	var fftout = make_afc_fft(map[int]float64{100: 1.0, 101: 50.0})

	var afc = afc_t{prev_axcindicate: NO_SIGNAL}
	channel.set_axcindicate(SIGNAL)
	afc.finalize(dev, 0, fftout)
	assert.Equal(t, 100, dev.bins[0])
}

// End to end: a single complex tone 25 kHz above center, AM demodulated.
// The squelch must open exactly once and the channel must report a signal.
func TestSingleToneAMCapture(t *testing.T) {
	if testing.Short() {
		t.Skip("end-to-end demod test")
	}
	reset_globals(t)
	fft_size = 512
	fft_size_log = 9

	var cfg = []DeviceConfig{{
		Type:          "testsignal",
		SampleRate:    320000,
		Mode:          "multichannel",
		Centerfreq:    120000000,
		SpeedupFactor: 10,
		Tones:         []ToneConfig{{Offset: 25300, Ampl: 0.5}},
		Channels: []ChannelConfig{{
			Freq:                120025300,
			Modulation:          "am",
			SquelchSnrThreshold: float_list{9},
			Outputs: []OutputConfig{{
				Type: "udp_stream", DestAddress: "127.0.0.1", DestPort: 17171,
			}},
		}},
	}}
	require.NoError(t, parse_devices(cfg))
	var dev = devices[0]

	require.NoError(t, input_init(dev.input))
	require.NoError(t, input_start(dev.input))
	devices_running.Store(1)
	sincosf_lut_init()

	var params = init_demod(NewSignal(), 0, 1)
	var done = make(chan struct{})
	go func() {
		demodulate(params)
		close(done)
	}()

	var fparms = dev.channels[0].freqlist[0]
	var deadline = time.Now().Add(15 * time.Second)
	for fparms.active_counter.Load() == 0 && time.Now().Before(deadline) {
		// keep consuming batches so the demod thread never stalls on the
		// waveavail handshake
		if dev.waveavail.Load() == 1 {
			dev.waveavail.Store(0)
		}
		time.Sleep(time.Millisecond)
	}

	do_exit.Store(true)
	<-done
	require.NoError(t, input_stop(dev.input))

	assert.Greater(t, fparms.active_counter.Load(), uint64(0), "channel never saw a signal")
	assert.Equal(t, uint64(1), fparms.squelch.open_count(), "squelch should open exactly once")
	assert.Greater(t, fparms.squelch.signal_level(), fparms.squelch.noise_level())
}

// With a flat DC input (u8 value 127) the squelch never opens and the
// noise floor converges down.
func TestNoSignalNoiseFloorConvergence(t *testing.T) {
	if testing.Short() {
		t.Skip("end-to-end demod test")
	}
	reset_globals(t)
	fft_size = 512
	fft_size_log = 9

	var cfg = []DeviceConfig{{
		Type:          "testsignal",
		SampleRate:    320000,
		Mode:          "multichannel",
		Centerfreq:    120000000,
		SpeedupFactor: 10,
		// no tones, no noise: pure DC at u8 midpoint
		Channels: []ChannelConfig{{
			Freq:                120025000,
			Modulation:          "am",
			SquelchSnrThreshold: float_list{9},
			Outputs: []OutputConfig{{
				Type: "udp_stream", DestAddress: "127.0.0.1", DestPort: 17172,
			}},
		}},
	}}
	require.NoError(t, parse_devices(cfg))
	var dev = devices[0]

	require.NoError(t, input_init(dev.input))
	require.NoError(t, input_start(dev.input))
	devices_running.Store(1)
	sincosf_lut_init()

	var params = init_demod(NewSignal(), 0, 1)
	var done = make(chan struct{})
	go func() {
		demodulate(params)
		close(done)
	}()

	var fparms = dev.channels[0].freqlist[0]
	// run a couple of seconds of simulated audio through the channel
	var deadline = time.Now().Add(10 * time.Second)
	var batches = 0
	for batches < 20 && time.Now().Before(deadline) {
		if dev.waveavail.Load() == 1 {
			dev.waveavail.Store(0)
			batches++
		}
		time.Sleep(time.Millisecond)
	}

	do_exit.Store(true)
	<-done
	require.NoError(t, input_stop(dev.input))

	require.GreaterOrEqual(t, batches, 20, "demod pipeline made no progress")
	assert.Equal(t, uint64(0), fparms.squelch.open_count())
	assert.Equal(t, uint64(0), fparms.active_counter.Load())
	assert.Less(t, fparms.squelch.noise_level(), float32(0.02))
}
