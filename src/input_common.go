package skywave

/*------------------------------------------------------------------
 *
 * Purpose:	Common input source contract and lifecycle.
 *
 * Description:	Each device owns exactly one input.  The common state
 *		(format, sample rate, ring buffer, cursors) lives in
 *		input_t; driver-specific behaviour is provided through
 *		the input_driver interface.  The producer goroutine is
 *		the only writer of bufe and the only place that may
 *		transition the input to FAILED at runtime.
 *
 *---------------------------------------------------------------*/

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

type sample_format_t int

const (
	SFMT_UNDEF sample_format_t = iota
	SFMT_U8
	SFMT_S8
	SFMT_S16
	SFMT_F32
)

func (f sample_format_t) String() string {
	switch f {
	case SFMT_U8:
		return "u8"
	case SFMT_S8:
		return "s8"
	case SFMT_S16:
		return "s16"
	case SFMT_F32:
		return "f32"
	}
	return "undef"
}

type input_state_t int32

const (
	INPUT_UNKNOWN input_state_t = iota
	INPUT_INITIALIZED
	INPUT_RUNNING
	INPUT_FAILED
	INPUT_STOPPED
	INPUT_DISABLED
)

// Typed error kinds surfaced by input operations.
var ErrInputConfig = errors.New("input configuration error")
var ErrInputInit = errors.New("input initialization failed")
var ErrInputNotRunning = errors.New("input is not running")
var ErrInputUnknownType = errors.New("unknown input type")

type input_driver interface {
	typename() string
	parse_config(input *input_t, cfg *DeviceConfig) error
	init(input *input_t) error
	// rx is the producer loop; it runs as its own goroutine and must set
	// the input state to RUNNING before producing, FAILED on error.
	rx(input *input_t)
	set_centerfreq(input *input_t, centerfreq int) error
	stop(input *input_t) error
}

type input_t struct {
	// buffer holds buf_size ring bytes plus 2*bytes_per_sample*fft_size
	// trailing bytes replicating the start of the ring (see circbuffer_append).
	buffer   []byte
	buf_size int
	bufs     int // consumer cursor, guarded by buffer_lock
	bufe     int // producer cursor, guarded by buffer_lock

	state atomic.Int32

	sfmt             sample_format_t
	fullscale        float32
	bytes_per_sample int
	sample_rate      int
	centerfreq       int

	overflow_count atomic.Uint64

	buffer_lock sync.Mutex

	drv     input_driver
	rx_done chan struct{}
}

func (input *input_t) get_state() input_state_t {
	return input_state_t(input.state.Load())
}

func (input *input_t) set_state(s input_state_t) {
	input.state.Store(int32(s))
}

/*
 * Write input data into the circular buffer input.buffer.
 * In general, buf_size is not an exact multiple of len(buf), so wrapping
 * needs care.  buf_size is an exact multiple of FFT_BATCH * bps (input
 * bytes per output audio sample) and the backing slice is buf_size +
 * 2 * bytes_per_sample * fft_size long.  On each wrap we copy up to
 * 2 * bytes_per_sample * fft_size bytes from the start of the ring to its
 * tail, so that the FFT window never has to straddle the wrap point.
 */
func circbuffer_append(input *input_t, buf []byte) {
	var length = len(buf)
	var tail_size = 2 * input.bytes_per_sample * fft_size

	input.buffer_lock.Lock()
	var space_left = input.buf_size - input.bufe
	if space_left >= length {
		copy(input.buffer[input.bufe:], buf)
		if input.bufe == 0 {
			var tail_len = min(length, tail_size)
			copy(input.buffer[input.buf_size:input.buf_size+tail_len], input.buffer[:tail_len])
		}
	} else {
		copy(input.buffer[input.bufe:input.buf_size], buf[:space_left])
		copy(input.buffer, buf[space_left:])
		var tail_len = min(length-space_left, tail_size)
		copy(input.buffer[input.buf_size:input.buf_size+tail_len], input.buffer[:tail_len])
	}
	input.bufe = (input.bufe + length) % input.buf_size
	input.buffer_lock.Unlock()
}

// input_new constructs a driver-specific input.  Hardware SDR front-ends
// (rtlsdr, soapysdr, mirisdr) live behind the same contract but are not
// built into this port.
func input_new(typename string) (*input_t, error) {
	var drv input_driver
	switch typename {
	case "file":
		drv = &file_input{}
	case "testsignal":
		drv = &testsignal_input{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrInputUnknownType, typename)
	}

	var input = &input_t{
		sfmt:             SFMT_U8,
		fullscale:        127.5,
		bytes_per_sample: 1,
		drv:              drv,
		rx_done:          make(chan struct{}),
	}
	input.set_state(INPUT_UNKNOWN)
	return input, nil
}

func input_parse_config(input *input_t, cfg *DeviceConfig) error {
	return input.drv.parse_config(input, cfg)
}

func input_init(input *input_t) error {
	if input.sfmt == SFMT_UNDEF {
		return fmt.Errorf("%w: sample format not set", ErrInputConfig)
	}
	if input.fullscale <= 0 {
		return fmt.Errorf("%w: fullscale must be positive", ErrInputConfig)
	}
	if input.bytes_per_sample < 1 {
		return fmt.Errorf("%w: bytes_per_sample must be at least 1", ErrInputConfig)
	}
	if input.sample_rate <= WAVE_RATE {
		return fmt.Errorf("%w: sample_rate must be greater than %d", ErrInputConfig, WAVE_RATE)
	}

	if err := input.drv.init(input); err != nil {
		return fmt.Errorf("%w: %v", ErrInputInit, err)
	}
	input.set_state(INPUT_INITIALIZED)
	return nil
}

func input_start(input *input_t) error {
	if input.get_state() != INPUT_INITIALIZED {
		return fmt.Errorf("%w: input not initialized", ErrInputInit)
	}
	go func() {
		input.drv.rx(input)
		close(input.rx_done)
	}()
	return nil
}

func input_set_centerfreq(input *input_t, centerfreq int) error {
	if input.get_state() != INPUT_RUNNING {
		return ErrInputNotRunning
	}
	if err := input.drv.set_centerfreq(input, centerfreq); err != nil {
		input.set_state(INPUT_FAILED)
		return err
	}
	input.centerfreq = centerfreq
	return nil
}

func input_stop(input *input_t) error {
	<-input.rx_done

	var err = input.drv.stop(input)
	if err != nil {
		input.set_state(INPUT_FAILED)
		return err
	}
	input.set_state(INPUT_STOPPED)
	return nil
}
