package skywave

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const raw_no_signal_sample = float32(0.05)
const raw_signal_sample = float32(0.75)

// send through "no signal" samples to get the noise floor down
func send_samples_for_noise_floor(t *testing.T, squelch *Squelch) {
	t.Helper()
	for i := 0; i < 100000 && squelch.noise_level() > 1.01*raw_no_signal_sample; i++ {
		squelch.process_raw_sample(raw_no_signal_sample)
	}
	require.LessOrEqual(t, squelch.noise_level(), 1.01*raw_no_signal_sample)
	require.Greater(t, raw_signal_sample, squelch.squelch_level())
}

func TestSquelchDefaultObject(t *testing.T) {
	var squelch = squelch_create()
	assert.Equal(t, uint64(0), squelch.open_count())
	assert.False(t, squelch.is_open())
	assert.False(t, squelch.should_process_audio())
}

func TestSquelchNoiseFloor(t *testing.T) {
	var squelch = squelch_create()

	// noise floor starts high
	assert.Greater(t, squelch.noise_level(), 10.0*raw_no_signal_sample)

	// noise floor drifts down towards (but never at) the incoming raw
	// sample level
	var last_noise_level, this_noise_level float32
	this_noise_level = squelch.noise_level()
	for {
		last_noise_level = this_noise_level

		// not all samples update the noise floor
		for j := 0; j < 25; j++ {
			squelch.process_raw_sample(raw_no_signal_sample)
		}

		this_noise_level = squelch.noise_level()
		require.LessOrEqual(t, this_noise_level, last_noise_level)
		if this_noise_level == last_noise_level {
			break
		}
	}

	// noise floor ends up close to the incoming level
	assert.Less(t, squelch.noise_level(), 1.01*raw_no_signal_sample)
}

func TestSquelchNormalOperation(t *testing.T) {
	var squelch = squelch_create()

	send_samples_for_noise_floor(t, &squelch)

	// send through "signal" samples and squelch should open shortly
	for i := 0; i < 500 && !squelch.is_open(); i++ {
		squelch.process_raw_sample(raw_signal_sample)
	}
	require.True(t, squelch.is_open())
	require.True(t, squelch.should_process_audio())
	assert.Equal(t, uint64(1), squelch.open_count())

	// send through a bunch more "signal" values and squelch stays open
	for i := 0; i < 1000; i++ {
		squelch.process_raw_sample(raw_signal_sample)
	}
	require.True(t, squelch.is_open())
	require.True(t, squelch.should_process_audio())

	// send through "no signal" samples and squelch should close quickly
	// (via the low signal abort, well before the full CLOSING delay)
	for i := 0; i < 300 && squelch.is_open(); i++ {
		squelch.process_raw_sample(raw_no_signal_sample)
	}
	assert.False(t, squelch.is_open())
	assert.False(t, squelch.should_process_audio())
}

func TestSquelchIsOpenImpliesProcessAudio(t *testing.T) {
	var squelch = squelch_create()
	send_samples_for_noise_floor(t, &squelch)

	// is_open() may only report true in states where audio is processed
	for i := 0; i < 3000; i++ {
		var sample = raw_no_signal_sample
		if i%700 < 350 {
			sample = raw_signal_sample
		}
		squelch.process_raw_sample(sample)
		if squelch.is_open() {
			require.True(t, squelch.should_process_audio())
		}
	}
}

func TestSquelchManualLevelThreshold(t *testing.T) {
	var squelch = squelch_create()
	squelch.set_squelch_level_threshold(0.5)

	assert.Equal(t, float32(0.5), squelch.squelch_level())

	// below the manual level nothing opens, no matter how long
	for i := 0; i < 3000; i++ {
		squelch.process_raw_sample(0.4)
	}
	assert.False(t, squelch.is_open())

	// above it, the squelch opens after the usual delay
	for i := 0; i < 500 && !squelch.is_open(); i++ {
		squelch.process_raw_sample(0.8)
	}
	assert.True(t, squelch.is_open())
}

func TestSquelchLowSignalAbort(t *testing.T) {
	var squelch = squelch_create()
	send_samples_for_noise_floor(t, &squelch)

	for i := 0; i < 500 && !squelch.is_open(); i++ {
		squelch.process_raw_sample(raw_signal_sample)
	}
	require.True(t, squelch.is_open())

	// a sharp drop closes the squelch after low_signal_abort samples,
	// well before the close delay would
	var samples_to_close = 0
	for squelch.is_open() {
		squelch.process_raw_sample(0.0)
		samples_to_close++
		require.Less(t, samples_to_close, 197)
	}
	assert.GreaterOrEqual(t, samples_to_close, 88)
}

func TestSquelchFlapDetection(t *testing.T) {
	var squelch = squelch_create()
	send_samples_for_noise_floor(t, &squelch)

	var normal_level = squelch.squelch_level()

	// Force several quick open/close cycles.  Each cycle: signal long
	// enough to get through the OPENING delay, then a hard drop to abort.
	for cycle := 0; cycle < 4; cycle++ {
		for i := 0; i < 500 && !squelch.is_open(); i++ {
			squelch.process_raw_sample(raw_signal_sample)
		}
		require.True(t, squelch.is_open(), "cycle %d", cycle)
		for i := 0; i < 300 && squelch.is_open(); i++ {
			squelch.process_raw_sample(0.0)
		}
		require.False(t, squelch.is_open(), "cycle %d", cycle)
	}

	// After enough recent opens the squelch is flapping and the level
	// drops to the flappy ratio (0.9x normal)
	assert.Greater(t, squelch.flappy_count(), uint64(0))
	assert.Less(t, squelch.squelch_level(), normal_level)
}

func TestSquelchFlapWindowReset(t *testing.T) {
	var squelch = squelch_create()
	send_samples_for_noise_floor(t, &squelch)

	// four cycles get the flap detector armed; the first open follows a
	// long CLOSED stretch and does not count as a recent open
	for cycle := 0; cycle < 4; cycle++ {
		for i := 0; i < 500 && !squelch.is_open(); i++ {
			squelch.process_raw_sample(raw_signal_sample)
		}
		for i := 0; i < 300 && squelch.is_open(); i++ {
			squelch.process_raw_sample(0.0)
		}
	}
	require.True(t, squelch.currently_flapping())

	// a long stretch of CLOSED resets the recent-open counter
	for i := 0; i < 1500; i++ {
		squelch.process_raw_sample(raw_no_signal_sample)
	}
	assert.False(t, squelch.currently_flapping())
}

func TestSquelchSignalOutsideFilter(t *testing.T) {
	var squelch = squelch_create()
	send_samples_for_noise_floor(t, &squelch)

	// signal_outside_filter requires the post filter to be in use
	assert.False(t, squelch.signal_outside_filter())

	// get it open with both raw and filtered samples flowing
	for i := 0; i < 500 && !squelch.is_open(); i++ {
		squelch.process_raw_sample(raw_signal_sample)
		squelch.process_filtered_sample(raw_signal_sample)
	}
	require.True(t, squelch.is_open())

	// keep the pre-filter fed with signal while the post-filter sees
	// nothing: the filter is rejecting what the raw bin sees
	for i := 0; i < 3000 && !squelch.signal_outside_filter(); i++ {
		squelch.process_raw_sample(raw_signal_sample)
		squelch.process_filtered_sample(0.0)
	}
	assert.True(t, squelch.signal_outside_filter() || !squelch.is_open())
}
