package skywave

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ctcss_sample_rate = 8000

func ctcss_fast_window() int { return ctcss_sample_rate * 5 / 100 }
func ctcss_slow_window() int { return ctcss_sample_rate * 4 / 10 }

func run_signal_through(c *CTCSS, signal *GenerateSignal) {
	for !c.enough_samples() {
		c.process_audio_sample(signal.get_sample())
	}
}

func TestCTCSSCreation(t *testing.T) {
	var ctcss CTCSS
	assert.False(t, ctcss.is_enabled())
	// a disabled detector never gates the squelch
	assert.True(t, ctcss.has_tone())
}

func TestCTCSSEnabledDetector(t *testing.T) {
	var ctcss = ctcss_create(100.0, ctcss_sample_rate, ctcss_slow_window())
	assert.True(t, ctcss.is_enabled())
	assert.False(t, ctcss.enough_samples())
	assert.False(t, ctcss.has_tone())
}

func TestCTCSSResetClearsState(t *testing.T) {
	var ctcss = ctcss_create(100.0, ctcss_sample_rate, ctcss_slow_window())

	var signal = generate_signal_create(ctcss_sample_rate)
	signal.add_tone(100.0, TONE_NORMAL)
	run_signal_through(&ctcss, signal)
	require.True(t, ctcss.enough_samples())
	require.True(t, ctcss.has_tone())

	ctcss.reset()
	assert.False(t, ctcss.has_tone())
	assert.False(t, ctcss.enough_samples())
}

func TestCTCSSNoSignal(t *testing.T) {
	// with a dead-silent input no tone may ever be reported
	for _, standard_tone := range ctcss_standard_tones {
		var ctcss = ctcss_create(standard_tone, ctcss_sample_rate, ctcss_slow_window())
		var signal = generate_signal_create(ctcss_sample_rate)
		run_signal_through(&ctcss, signal)
		assert.False(t, ctcss.has_tone(), "tone of %f found in silence", standard_tone)
	}
}

func TestCTCSSHasTone(t *testing.T) {
	var tone = ctcss_standard_tones[0]

	var signal = generate_signal_create(ctcss_sample_rate)
	signal.add_tone(tone, TONE_NORMAL)
	signal.add_noise(NOISE_NORMAL)

	var ctcss = ctcss_create(tone, ctcss_sample_rate, ctcss_slow_window())
	run_signal_through(&ctcss, signal)
	assert.True(t, ctcss.has_tone(), "expected tone of %f not found", tone)
}

func TestCTCSSToneWinsAgainstWholeBank(t *testing.T) {
	var tone = float32(100.0)

	// every other standard tone's detector must NOT report its own tone
	// while this one is transmitted
	for _, standard_tone := range ctcss_standard_tones {
		if math.Abs(float64(standard_tone-tone)) < 5 {
			continue
		}
		var signal = generate_signal_create(ctcss_sample_rate)
		signal.add_tone(tone, TONE_NORMAL)
		signal.add_noise(NOISE_NORMAL)

		var ctcss = ctcss_create(standard_tone, ctcss_sample_rate, ctcss_slow_window())
		run_signal_through(&ctcss, signal)
		assert.False(t, ctcss.has_tone(),
			"tone of %f found, expected only %f", standard_tone, tone)
	}
}

func TestCTCSSFastWindowDetects(t *testing.T) {
	var tone = ctcss_standard_tones[10]

	var signal = generate_signal_create(ctcss_sample_rate)
	signal.add_tone(tone, TONE_STRONG)

	var ctcss = ctcss_create(tone, ctcss_sample_rate, ctcss_fast_window())
	run_signal_through(&ctcss, signal)
	assert.True(t, ctcss.has_tone())
}

func TestCTCSSFoundCounters(t *testing.T) {
	var tone = ctcss_standard_tones[0]

	var signal = generate_signal_create(ctcss_sample_rate)
	signal.add_tone(tone, TONE_NORMAL)

	var ctcss = ctcss_create(tone, ctcss_sample_rate, ctcss_slow_window())
	for window := 0; window < 3; window++ {
		for i := 0; i < ctcss_slow_window(); i++ {
			ctcss.process_audio_sample(signal.get_sample())
		}
	}
	assert.Equal(t, uint64(3), ctcss.ctcss_count())
	assert.Equal(t, uint64(0), ctcss.no_ctcss_count())
}

func TestSquelchWithCTCSSGate(t *testing.T) {
	var squelch = squelch_create()
	squelch.set_ctcss_freq(100.0, WAVE_RATE)
	send_samples_for_noise_floor(t, &squelch)

	var wrong_tone = generate_signal_create(WAVE_RATE)
	wrong_tone.add_tone(131.8, TONE_NORMAL)

	// squelch power says open, but the wrong CTCSS tone keeps is_open false
	for i := 0; i < 2*ctcss_slow_window(); i++ {
		squelch.process_raw_sample(raw_signal_sample)
		if squelch.should_process_audio() {
			squelch.process_audio_sample(wrong_tone.get_sample())
		}
	}
	assert.True(t, squelch.should_process_audio())
	assert.False(t, squelch.is_open())
}
