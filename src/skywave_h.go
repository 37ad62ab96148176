// Package skywave is a multichannel AM/NFM demodulator, mixer, streamer and
// recorder for wideband SDR I/Q streams.  It is a Go port of the classic
// airband scanner architecture: one FFT per device slides over the input
// ring buffer and every voice channel is extracted from a single FFT bin.
package skywave

import (
	"sync"
	"sync/atomic"
	"time"
)

const MIN_BUF_SIZE = 2560000
const DEFAULT_SAMPLE_RATE = 2560000

/*
 * Output audio sample rate.  NFM support is always compiled in, so we run
 * the higher rate unconditionally (the AM-only builds of the C original
 * used 8 kHz).
 */

const WAVE_RATE = 16000

const WAVE_BATCH = WAVE_RATE / 8
const AGC_EXTRA = 100
const WAVE_LEN = 2*WAVE_BATCH + AGC_EXTRA

// The MP3 stream leaves the encoder at WAVE_RATE (the shine encoder does
// not resample the way LAME did).
const MP3_RATE = WAVE_RATE

const MAX_SHOUT_QUEUELEN = 32768
const TAG_QUEUE_LEN = 16

const MIN_FFT_SIZE_LOG = 8
const DEFAULT_FFT_SIZE_LOG = 9
const MAX_FFT_SIZE_LOG = 13

// Number of FFT windows per demod round.  The GPU backend of the C original
// batched 250; the CPU path always ran one at a time.
const FFT_BATCH = 1

const MIX_DIVISOR = 2

type status int32

const (
	NO_SIGNAL status = ' '
	SIGNAL    status = '*'
	AFC_UP    status = '<'
	AFC_DOWN  status = '>'
)

type ch_states int32

const (
	CH_DIRTY ch_states = iota
	CH_WORKING
	CH_READY
)

type mix_modes int

const (
	MM_MONO mix_modes = iota
	MM_STEREO
)

type output_type int

const (
	O_ICECAST output_type = iota
	O_FILE
	O_RAWFILE
	O_MIXER
	O_UDP_STREAM
	O_PULSE
)

type modulations int

const (
	MOD_AM modulations = iota
	MOD_NFM
)

type rec_modes int

const (
	R_MULTICHANNEL rec_modes = iota
	R_SCAN
)

// Signal is a bare condition variable used for the demod -> output and
// mixer -> output handoffs.  Wakeups may coalesce; the woken thread always
// re-checks readiness flags itself.
type Signal struct {
	mu   sync.Mutex
	cond *sync.Cond
}

func NewSignal() *Signal {
	var s = &Signal{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *Signal) send() {
	s.mu.Lock()
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *Signal) wait() {
	s.mu.Lock()
	s.cond.Wait()
	s.mu.Unlock()
}

type freq_tag struct {
	freq int // frequency list index, -1 = empty
	tv   time.Time
}

type freq_t struct {
	frequency      int    // scan frequency
	label          string // frequency label
	agcavgfast     float32
	ampfactor      float32
	squelch        Squelch
	active_counter atomic.Uint64 // count of output loops where channel had signal
	notch_filter   NotchFilter   // good for removing CTCSS tones from audio
	lowpass_filter LowpassFilter // applied to I/Q after derotation, bandwidth/2
	modulation     modulations
}

type channel_t struct {
	wavein    []float32 // FFT output waveform, WAVE_LEN
	waveout   []float32 // waveform after squelch + AGC (left/center channel)
	waveout_r []float32 // right channel mixer output
	iq_in     []float32 // raw input samples for I/Q outputs and NFM demod, 2*WAVE_LEN
	iq_out    []float32 // raw output samples for I/Q outputs

	pr           float32 // previous sample - real part
	pj           float32 // previous sample - imaginary part
	prev_waveout float32 // previous sample - waveout before notch / ampfactor
	alpha        float32 // NFM de-emphasis

	dm_dphi, dm_phi uint32 // derotation frequency and current phase value

	mode        mix_modes // mono or stereo
	axcindicate atomic.Int32
	afc         uint8 // 0 - AFC disabled; 1 - minimal; up to 255 - most aggressive

	freqlist []*freq_t
	freq_idx int

	need_mp3       bool
	needs_raw_iq   bool
	has_iq_outputs bool

	state atomic.Int32 // mixer channel state flag (ch_states)

	outputs []*output_t

	highpass int // encoder highpass cutoff
	lowpass  int // encoder lowpass cutoff
	lame     *mp3_encoder
}

func (c *channel_t) get_axcindicate() status {
	return status(c.axcindicate.Load())
}

func (c *channel_t) set_axcindicate(s status) {
	c.axcindicate.Store(int32(s))
}

func (c *channel_t) get_state() ch_states {
	return ch_states(c.state.Load())
}

func (c *channel_t) set_state(s ch_states) {
	c.state.Store(int32(s))
}

type device_t struct {
	input *input_t

	alpha    float32
	channels []*channel_t

	base_bins, bins []int

	waveend   int
	waveavail atomic.Int32

	tag_queue      [TAG_QUEUE_LEN]freq_tag
	tq_head        int
	tq_tail        int
	last_frequency int
	tag_queue_lock sync.Mutex

	row  int // TUI row cursor
	mode rec_modes

	output_overrun_count atomic.Uint64

	controller_done chan struct{}
}

type output_t struct {
	otype   output_type
	enabled bool
	active  bool
	data    any
}

type mixer_data struct {
	mixer *mixer_t
	input int
}

type mixinput_t struct {
	wavein              []float32
	ampfactor           float32
	ampl, ampr          float32
	ready               bool
	has_signal          bool
	mutex               sync.Mutex
	input_overrun_count atomic.Uint64
}

type mixer_t struct {
	name                 string
	enabled              atomic.Bool
	interval             int
	output_overrun_count atomic.Uint64
	inputs               []*mixinput_t
	inputs_todo          []bool // guarded by the mixer thread; bit i also flipped under inputs[i].mutex
	input_mask           []bool // bit i guarded by inputs[i].mutex
	channel              channel_t
}

type demod_params_t struct {
	mp3_signal   *Signal
	device_start int
	device_end   int
}

type output_params_t struct {
	mp3_signal   *Signal
	device_start int
	device_end   int
	mixer_start  int
	mixer_end    int
}

// Process-lifetime singletons.  All of these are established before any
// worker goroutine starts and are read-only afterwards, except do_exit.
var devices []*device_t
var mixers []*mixer_t
var device_count int
var mixer_count int
var devices_running atomic.Int32
var tui = false
var shout_metadata_delay = 3
var do_exit atomic.Bool
var use_localtime = false
var multiple_demod_threads = false
var multiple_output_threads = false
var log_scan_activity = false
var stats_filepath string
var fft_size_log = DEFAULT_FFT_SIZE_LOG
var fft_size = 1 << DEFAULT_FFT_SIZE_LOG

type fm_demod_algo int

const (
	FM_FAST_ATAN2 fm_demod_algo = iota
	FM_QUADRI_DEMOD
)

var fm_demod = FM_FAST_ATAN2

// NFM de-emphasis default, tau = 200 us
var alpha = float32(tau_to_alpha(200))
