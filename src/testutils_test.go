package skywave

import (
	"testing"
)

// reset_globals puts the package-level singletons back into their pristine
// startup state.  Tests in this package share them, so every test that
// touches the device/mixer graph registers this first.
func reset_globals(t *testing.T) {
	t.Helper()

	var restore_fft_size = fft_size
	var restore_fft_size_log = fft_size_log

	devices = nil
	mixers = nil
	device_count = 0
	mixer_count = 0
	devices_running.Store(0)
	do_exit.Store(false)
	tui = false
	shout_metadata_delay = 3
	use_localtime = false
	multiple_demod_threads = false
	multiple_output_threads = false
	log_scan_activity = false
	stats_filepath = ""
	fm_demod = FM_FAST_ATAN2

	t.Cleanup(func() {
		devices = nil
		mixers = nil
		device_count = 0
		mixer_count = 0
		devices_running.Store(0)
		do_exit.Store(false)
		stats_filepath = ""
		fft_size = restore_fft_size
		fft_size_log = restore_fft_size_log
	})
}
