package skywave

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInputNewUnknownType(t *testing.T) {
	var _, err = input_new("rtlsdr-on-mars")
	assert.ErrorIs(t, err, ErrInputUnknownType)
}

func TestInputInitValidation(t *testing.T) {
	reset_globals(t)
	fft_size = 512

	var input, err = input_new("file")
	require.NoError(t, err)

	// sample_rate must exceed WAVE_RATE
	input.sample_rate = WAVE_RATE
	assert.ErrorIs(t, input_init(input), ErrInputConfig)

	// fullscale must be positive
	input.sample_rate = 2560000
	input.fullscale = 0
	assert.ErrorIs(t, input_init(input), ErrInputConfig)
}

func TestFileInputReplayToEOF(t *testing.T) {
	reset_globals(t)
	fft_size = 256

	// 100 kB of recognizable bytes
	var payload = make([]byte, 100*1024)
	for i := range payload {
		payload[i] = byte(i * 7)
	}
	var path = filepath.Join(t.TempDir(), "capture.bin")
	require.NoError(t, os.WriteFile(path, payload, 0644))

	var input, err = input_new("file")
	require.NoError(t, err)
	require.NoError(t, input_parse_config(input, &DeviceConfig{
		Filepath:      path,
		SpeedupFactor: 100,
	}))
	input.sample_rate = 2560000
	input.buf_size = MIN_BUF_SIZE
	input.buffer = make([]byte, input.buf_size+2*input.bytes_per_sample*fft_size)

	require.NoError(t, input_init(input))
	require.Equal(t, INPUT_INITIALIZED, input.get_state())
	require.NoError(t, input_start(input))

	// the producer pushes the whole file and then fails out on EOF,
	// which is terminal for the device but not fatal for the process
	var deadline = time.Now().Add(10 * time.Second)
	for input.get_state() != INPUT_FAILED && time.Now().Before(deadline) {
		SLEEP_MS(10)
	}
	require.Equal(t, INPUT_FAILED, input.get_state())

	// everything that was read landed in the ring in order
	assert.Equal(t, payload, input.buffer[:len(payload)])
	assert.Equal(t, len(payload)%input.buf_size, input.bufe)

	require.NoError(t, input_stop(input))
	assert.Equal(t, INPUT_STOPPED, input.get_state())
}

func TestFileInputConfigErrors(t *testing.T) {
	var input, err = input_new("file")
	require.NoError(t, err)

	// filepath is mandatory
	assert.ErrorIs(t, input_parse_config(input, &DeviceConfig{}), ErrInputConfig)

	// negative speedup is rejected
	assert.ErrorIs(t, input_parse_config(input, &DeviceConfig{
		Filepath: "x", SpeedupFactor: -1,
	}), ErrInputConfig)

	// unknown sample format is rejected
	assert.ErrorIs(t, input_parse_config(input, &DeviceConfig{
		Filepath: "x", Format: "s24",
	}), ErrInputConfig)
}

func TestFileInputFormats(t *testing.T) {
	var cases = []struct {
		format string
		sfmt   sample_format_t
		bps    int
	}{
		{"u8", SFMT_U8, 1},
		{"s8", SFMT_S8, 1},
		{"s16", SFMT_S16, 2},
		{"f32", SFMT_F32, 4},
	}
	for _, c := range cases {
		var input, err = input_new("file")
		require.NoError(t, err)
		require.NoError(t, input_parse_config(input, &DeviceConfig{Filepath: "x", Format: c.format}))
		assert.Equal(t, c.sfmt, input.sfmt, c.format)
		assert.Equal(t, c.bps, input.bytes_per_sample, c.format)
	}
}

func TestGenerateSignalToneAndNoise(t *testing.T) {
	var signal = generate_signal_create(8000)

	// empty generator is silence
	for i := 0; i < 100; i++ {
		require.Equal(t, float32(0), signal.get_sample())
	}

	signal.add_tone(1000, TONE_NORMAL)
	var peak float32
	for i := 0; i < 8000; i++ {
		var v = signal.get_sample()
		if v > peak {
			peak = v
		}
	}
	assert.InDelta(t, TONE_NORMAL, peak, 0.01)

	signal.add_noise(NOISE_NORMAL)
	var nonzero = 0
	for i := 0; i < 100; i++ {
		if signal.get_sample() != 0 {
			nonzero++
		}
	}
	assert.Greater(t, nonzero, 90)
}

func TestGenerateSignalWriteFile(t *testing.T) {
	var signal = generate_signal_create(8000)
	signal.add_tone(100, TONE_NORMAL)

	var path = filepath.Join(t.TempDir(), "tone.cf32")
	require.NoError(t, signal.write_file(path, 0.5))

	var st, err = os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(4*4000), st.Size())
}
