package skywave

/*------------------------------------------------------------------
 *
 * Purpose:	Squelch state machine.
 *
 * Theory of operation:
 *
 * Squelch has 5 states, OPEN (has audio), CLOSED (no audio), OPENING
 * (transitioning from CLOSED to OPEN), CLOSING (transitioning from OPEN to
 * CLOSED), and LOW_SIGNAL_ABORT (same as CLOSING but because of a constant
 * signal drop).
 *
 * Squelch is considered "open" when the state is OPEN or CLOSING and
 * considered "closed" when the state is OPENING, LOW_SIGNAL_ABORT, or CLOSED.
 *
 * Noise floor is computed using a low pass filter and updated with the
 * current sample or prior value, whatever is lower.  Noise floor is updated
 * every 16 samples.
 *
 * Low pass filters are also used to track the current signal levels.  One
 * level is for the sample before filtering, the second for post signal
 * filtering (if any).  The pre-filter signal level is updated for every
 * sample.  The post-filter level is optional.  When used, the post-filter
 * signal level is compared to a delayed pre-filter value.  The post-filter
 * is initialized from the buffered pre-filter value when the OPENING delay
 * catches up to the buffer, and is not updated while state is CLOSED.
 *
 * Squelch level can be set manually or is computed as a function of the
 * noise floor.
 *
 * When the signal level exceeds the squelch level, the state transitions to
 * OPENING and a delay counter starts, then once the counter is over the
 * state moves to OPEN if there is signal, otherwise back to CLOSED.  The
 * same (but opposite) happens when the signal level drops below the squelch
 * level.
 *
 * While the squelch is OPEN, a count of continuous samples that are below
 * the squelch level is maintained.  If this count exceeds a threshold then
 * the state moves to LOW_SIGNAL_ABORT.  This allows the squelch to close
 * after a sharp drop off in signal before the signal level has caught up.
 *
 * A count of "recent opens" is maintained as a way to detect squelch
 * flapping (ie rapidly opening and closing).  When flapping is detected the
 * squelch level is decreased in an attempt to keep squelch open longer.
 *
 * CTCSS tone detection can be enabled.  If used, two tone detectors are
 * created at different window lengths.  The "fast" detector has less
 * resolution but needs fewer samples while the "slow" detector is more
 * accurate.  When CTCSS is enabled, squelch remains closed until a tone is
 * detected by the "fast" detector.
 *
 *---------------------------------------------------------------*/

import "math"

type squelch_state int

const (
	SQUELCH_CLOSED           squelch_state = iota // Audio is suppressed
	SQUELCH_OPENING                               // Transitioning closed -> open
	SQUELCH_CLOSING                               // Transitioning open -> closed
	SQUELCH_LOW_SIGNAL_ABORT                      // Like CLOSING but is_open() is false
	SQUELCH_OPEN                                  // Audio not suppressed
)

type moving_average_t struct {
	full   float32
	capped float32
}

type Squelch struct {
	noise_floor         float32
	using_manual_level  bool
	manual_signal_level float32
	normal_signal_ratio float32 // signal-to-noise ratio for normal squelch - ratio, not in dB
	flappy_signal_ratio float32 // signal-to-noise ratio for flappy squelch - ratio, not in dB

	moving_avg_cap float32
	pre_filter     moving_average_t // average signal level for reference sample
	post_filter    moving_average_t // average signal level for post-filter sample

	squelch_level_cache float32 // cached squelch_level() value, 0 forces recalculation

	using_post_filter  bool
	pre_vs_post_factor float32

	open_delay       int // how long to wait after signal level crosses squelch to open
	close_delay      int // how long to wait after signal level crosses squelch to close
	low_signal_abort int // number of repeated samples below squelch to cause a close

	next_state    squelch_state
	current_state squelch_state

	delay              int    // samples to wait before making next squelch decision
	open_count_        uint64 // number of times squelch is opened
	sample_count       uint64
	flappy_count_      uint64 // number of times squelch was detected as flapping
	low_signal_count   int    // number of repeated samples below squelch

	// Flap detection parameters
	recent_sample_size   uint64 // number of samples defined as "recent"
	flap_opens_threshold uint64 // number of opens to count as flapping
	recent_open_count    uint64 // number of times squelch recently opened
	closed_sample_count  uint64 // number of continuous samples where squelch has been CLOSED

	// Buffered pre-filtered values
	buffer_head int
	buffer_tail int
	buffer      []float32

	ctcss_fast CTCSS
	ctcss_slow CTCSS
}

func squelch_create() Squelch {
	var s Squelch
	s.noise_floor = 5.0
	s.set_squelch_snr_threshold(9.54)
	s.manual_signal_level = -1.0

	s.pre_filter = moving_average_t{0.001, 0.001}
	s.post_filter = moving_average_t{0.001, 0.001}

	s.pre_vs_post_factor = 0.9

	s.open_delay = 197
	s.close_delay = 197
	s.low_signal_abort = 88

	s.next_state = SQUELCH_CLOSED
	s.current_state = SQUELCH_CLOSED

	s.sample_count = ^uint64(0)

	s.recent_sample_size = 1000
	s.flap_opens_threshold = 3

	// Sized for the group delay of the 2nd order lowpass Bessel filter,
	// and must stay below open_delay.
	s.buffer_head = 0
	s.buffer_tail = 1
	s.buffer = make([]float32, 102)

	return s
}

func (s *Squelch) set_squelch_level_threshold(level float32) {
	if level > 0 {
		s.using_manual_level = true
		s.manual_signal_level = level
	} else {
		s.using_manual_level = false
	}

	// moving_avg_cap depends on using_manual_level and manual_signal_level
	s.calculate_moving_avg_cap()
}

func (s *Squelch) set_squelch_snr_threshold(db float32) {
	s.using_manual_level = false
	s.normal_signal_ratio = float32(math.Pow(10.0, float64(db)/20.0))
	s.flappy_signal_ratio = s.normal_signal_ratio * 0.9

	// moving_avg_cap depends on using_manual_level and normal_signal_ratio
	s.calculate_moving_avg_cap()
}

func (s *Squelch) set_ctcss_freq(ctcss_freq, sample_rate float32) {
	// Two CTCSS detectors with different window sizes.  0.4 sec is required
	// to tell between all the "standard" tones but 0.05 is enough to tell
	// between tones ~20 Hz apart.  ctcss_fast is used until there are
	// enough samples for ctcss_slow.
	s.ctcss_fast = ctcss_create(ctcss_freq, sample_rate, int(sample_rate*0.05))
	s.ctcss_slow = ctcss_create(ctcss_freq, sample_rate, int(sample_rate*0.4))
}

func (s *Squelch) is_open() bool {
	// if current state is OPEN or CLOSING then decide based on CTCSS (if enabled)
	if s.current_state == SQUELCH_OPEN || s.current_state == SQUELCH_CLOSING {
		// use slow (more accurate) if it has enough samples, otherwise fast
		// (which also returns false while short on samples)
		if s.ctcss_slow.is_enabled() {
			if s.ctcss_slow.enough_samples() {
				return s.ctcss_slow.has_tone()
			}
			return s.ctcss_fast.has_tone()
		}
		return true
	}
	return false
}

func (s *Squelch) should_filter_sample() bool {
	return (s.has_pre_filter_signal() || s.current_state != SQUELCH_CLOSED) && s.current_state != SQUELCH_LOW_SIGNAL_ABORT
}

func (s *Squelch) should_process_audio() bool {
	return s.current_state == SQUELCH_OPEN || s.current_state == SQUELCH_CLOSING
}

func (s *Squelch) first_open_sample() bool {
	return s.current_state != SQUELCH_OPEN && s.next_state == SQUELCH_OPEN
}

func (s *Squelch) last_open_sample() bool {
	return (s.current_state == SQUELCH_CLOSING && s.next_state == SQUELCH_CLOSED) ||
		(s.current_state != SQUELCH_LOW_SIGNAL_ABORT && s.next_state == SQUELCH_LOW_SIGNAL_ABORT)
}

func (s *Squelch) signal_outside_filter() bool {
	return s.using_post_filter && s.has_pre_filter_signal() && !s.has_post_filter_signal()
}

func (s *Squelch) noise_level() float32 {
	return s.noise_floor
}

func (s *Squelch) signal_level() float32 {
	return s.pre_filter.full
}

func (s *Squelch) squelch_level() float32 {
	if s.using_manual_level {
		return s.manual_signal_level
	}

	if s.squelch_level_cache == 0.0 {
		if s.currently_flapping() && s.flappy_signal_ratio < s.normal_signal_ratio {
			s.squelch_level_cache = s.flappy_signal_ratio * s.noise_floor
		} else {
			s.squelch_level_cache = s.normal_signal_ratio * s.noise_floor
		}
	}
	return s.squelch_level_cache
}

func (s *Squelch) open_count() uint64 {
	return s.open_count_
}

func (s *Squelch) flappy_count() uint64 {
	return s.flappy_count_
}

func (s *Squelch) ctcss_count() uint64 {
	return s.ctcss_slow.ctcss_count()
}

func (s *Squelch) no_ctcss_count() uint64 {
	return s.ctcss_slow.no_ctcss_count()
}

func (s *Squelch) process_raw_sample(sample float32) {
	// Update current state based on previous state from last iteration
	s.update_current_state()

	s.sample_count++

	// Auto noise floor
	//  - Doing this every 16 samples instead of every sample allows a gradual
	//    signal increase to cross the squelch threshold (that is a function of
	//    the noise floor) sooner.
	//  - Updating even when squelch is open and / or signal is outside filter
	//    means the noise floor (and squelch threshold) will slowly increase
	//    during a long signal.  This can lead to flapping, but keeps a sudden
	//    and sustained increase of noise from locking squelch OPEN.
	if s.sample_count%16 == 0 {
		s.calculate_noise_floor()
	}

	s.update_moving_avg(&s.pre_filter, sample)

	// Apply the comparison factor before adding to the buffer, will later be
	// used as the threshold for the post_filter
	s.buffer[s.buffer_head] = s.pre_filter.capped * s.pre_vs_post_factor

	// Check signal against thresholds
	if s.current_state == SQUELCH_OPEN && !s.has_signal() {
		s.set_state(SQUELCH_CLOSING)
	}

	if s.current_state == SQUELCH_CLOSED && s.has_signal() {
		s.set_state(SQUELCH_OPENING)
	}

	// Override squelch and close if there are repeated samples under the
	// squelch level.  NOTE: this can cause squelch to close, but it may
	// immediately be re-opened if the signal level still hasn't fallen
	// after the delays.
	if s.current_state != SQUELCH_CLOSED && s.current_state != SQUELCH_LOW_SIGNAL_ABORT {
		if sample >= s.squelch_level() {
			s.low_signal_count = 0
		} else {
			s.low_signal_count++
			if s.low_signal_count >= s.low_signal_abort {
				s.set_state(SQUELCH_LOW_SIGNAL_ABORT)
			}
		}
	}
}

func (s *Squelch) process_filtered_sample(sample float32) {
	if !s.should_filter_sample() {
		return
	}

	if s.current_state == SQUELCH_OPENING {
		// While OPENING, wait until the pre-filter value gets through the buffer
		if s.delay < len(s.buffer) {
			return
		}
		// Buffer has been filled, initialize post-filter with the pre-filter value
		if s.delay == len(s.buffer) {
			s.post_filter = moving_average_t{s.buffer[s.buffer_tail], s.buffer[s.buffer_tail]}
		}
	}

	s.using_post_filter = true
	s.update_moving_avg(&s.post_filter, sample)

	// Always comparing the post-filter average to the buffered pre-filtered value
	if s.post_filter.capped < s.buffer[s.buffer_tail] {
		s.set_state(SQUELCH_CLOSED)
	}
}

func (s *Squelch) process_audio_sample(sample float32) {
	if !s.ctcss_slow.is_enabled() {
		return
	}

	// ctcss is reset on transition to CLOSED and stays unused while CLOSED
	if s.current_state != SQUELCH_CLOSED {
		// always send the sample to the slow (more accurate) detector, also
		// to the fast one until the slow one has enough
		s.ctcss_slow.process_audio_sample(sample)
		if !s.ctcss_slow.enough_samples() {
			s.ctcss_fast.process_audio_sample(sample)
		}
	}
}

func (s *Squelch) set_state(update squelch_state) {

	// Valid transitions (current_state -> next_state) are:

	//  - CLOSED -> CLOSED
	//  - CLOSED -> OPENING
	//    ---------------------------
	//  - OPENING -> CLOSED
	//  - OPENING -> OPENING
	//  - OPENING -> CLOSING
	//  - OPENING -> OPEN
	//    ---------------------------
	//  - CLOSING -> CLOSED
	//  - CLOSING -> OPENING
	//  - CLOSING -> CLOSING
	//  - CLOSING -> LOW_SIGNAL_ABORT
	//  - CLOSING -> OPEN
	//    ---------------------------
	//  - LOW_SIGNAL_ABORT -> CLOSED
	//  - LOW_SIGNAL_ABORT -> LOW_SIGNAL_ABORT
	//    ---------------------------
	//  - OPEN -> CLOSING
	//  - OPEN -> LOW_SIGNAL_ABORT
	//  - OPEN -> OPEN

	// Invalid transitions (current_state -> next_state) are fixed up:

	//  CLOSED -> CLOSING (if already CLOSED cant go backwards)
	if s.current_state == SQUELCH_CLOSED && update == SQUELCH_CLOSING {
		update = SQUELCH_CLOSED

		//  CLOSED -> LOW_SIGNAL_ABORT (if already CLOSED cant go backwards)
	} else if s.current_state == SQUELCH_CLOSED && update == SQUELCH_LOW_SIGNAL_ABORT {
		update = SQUELCH_CLOSED

		//  CLOSED -> OPEN (must go through OPENING to get to OPEN)
	} else if s.current_state == SQUELCH_CLOSED && update == SQUELCH_OPEN {
		update = SQUELCH_OPENING

		//  OPENING -> LOW_SIGNAL_ABORT (just go to CLOSED instead)
	} else if s.current_state == SQUELCH_OPENING && update == SQUELCH_LOW_SIGNAL_ABORT {
		update = SQUELCH_CLOSED

		//  LOW_SIGNAL_ABORT -> OPENING / OPEN / CLOSING (LOW_SIGNAL_ABORT can only go to CLOSED)
	} else if s.current_state == SQUELCH_LOW_SIGNAL_ABORT && update != SQUELCH_LOW_SIGNAL_ABORT && update != SQUELCH_CLOSED {
		update = SQUELCH_CLOSED

		//  OPEN -> CLOSED (must go through CLOSING to get to CLOSED)
	} else if s.current_state == SQUELCH_OPEN && update == SQUELCH_CLOSED {
		update = SQUELCH_CLOSING

		//  OPEN -> OPENING (if already OPEN cant go backwards)
	} else if s.current_state == SQUELCH_OPEN && update == SQUELCH_OPENING {
		update = SQUELCH_OPEN
	}

	s.next_state = update
}

func (s *Squelch) update_current_state() {
	if s.next_state == SQUELCH_OPENING {
		if s.current_state != SQUELCH_OPENING {
			s.delay = 0
			s.low_signal_count = 0
			s.using_post_filter = false
			s.current_state = s.next_state
		} else {
			// in OPENING delay
			s.delay++
			if s.delay >= s.open_delay {
				// After getting through the OPENING delay, count this as an
				// "open" for flap detection even if the signal has gone.
				// NOTE - process_filtered_sample() would have already sent
				// state to CLOSED before the delay if post_filter.capped was
				// too low, so that wont count towards flapping.
				if s.closed_sample_count < s.recent_sample_size {
					s.recent_open_count++
					if s.currently_flapping() {
						s.flappy_count_++
					}

					// Force squelch_level recalculation at next call
					s.squelch_level_cache = 0.0
				}

				// Check signal level after delay to either go to OPEN or CLOSED
				if s.has_signal() {
					s.next_state = SQUELCH_OPEN
				} else {
					s.next_state = SQUELCH_CLOSED
				}
			}
		}
	} else if s.next_state == SQUELCH_CLOSING {
		if s.current_state != SQUELCH_CLOSING {
			s.delay = 0
			s.current_state = s.next_state
		} else {
			// in CLOSING delay
			s.delay++
			if s.delay >= s.close_delay {
				if !s.has_signal() {
					s.next_state = SQUELCH_CLOSED
				} else {
					s.current_state = SQUELCH_OPEN // set current_state to avoid incrementing open_count
					s.next_state = SQUELCH_OPEN
				}
			}
		}
	} else if s.next_state == SQUELCH_LOW_SIGNAL_ABORT {
		if s.current_state != SQUELCH_LOW_SIGNAL_ABORT {
			// If coming from CLOSING then keep the delay counter that has already started
			if s.current_state != SQUELCH_CLOSING {
				s.delay = 0
			}
			s.current_state = s.next_state
		} else {
			// in LOW_SIGNAL_ABORT delay
			s.delay++
			if s.delay >= s.close_delay {
				s.next_state = SQUELCH_CLOSED
			}
		}
	} else if s.next_state == SQUELCH_OPEN && s.current_state != SQUELCH_OPEN {
		s.open_count_++
		s.current_state = s.next_state
	} else if s.next_state == SQUELCH_CLOSED && s.current_state != SQUELCH_CLOSED {
		s.using_post_filter = false
		s.closed_sample_count = 0
		s.current_state = s.next_state
		s.ctcss_fast.reset()
		s.ctcss_slow.reset()
	} else if s.next_state == SQUELCH_CLOSED && s.current_state == SQUELCH_CLOSED {
		// Count this as a closed sample towards flap detection (can stop
		// counting at recent_sample_size)
		if s.closed_sample_count < s.recent_sample_size {
			s.closed_sample_count++
		} else if s.closed_sample_count == s.recent_sample_size {
			s.recent_open_count = 0
			s.squelch_level_cache = 0.0 // Force squelch_level recalculation
		}
	} else {
		s.current_state = s.next_state
	}

	s.buffer_tail = (s.buffer_tail + 1) % len(s.buffer)
	s.buffer_head = (s.buffer_head + 1) % len(s.buffer)
}

func (s *Squelch) has_pre_filter_signal() bool {
	return s.pre_filter.capped >= s.squelch_level()
}

func (s *Squelch) has_post_filter_signal() bool {
	return s.using_post_filter && s.post_filter.capped >= s.buffer[s.buffer_tail]
}

func (s *Squelch) has_signal() bool {
	if s.using_post_filter {
		return s.has_pre_filter_signal() && s.has_post_filter_signal()
	}
	return s.has_pre_filter_signal()
}

func (s *Squelch) calculate_noise_floor() {
	const decay_factor = 0.97
	const new_factor = 1.0 - decay_factor

	s.noise_floor = s.noise_floor*decay_factor + min32(s.pre_filter.capped, s.noise_floor)*new_factor + 1e-6

	// moving_avg_cap depends on noise_floor
	s.calculate_moving_avg_cap()

	// Force squelch_level recalculation at next call - depends on noise_floor
	s.squelch_level_cache = 0.0
}

func (s *Squelch) calculate_moving_avg_cap() {
	// max value for a moving average's capped level is 1.5 x the normal /
	// manual squelch level, so the average drops quickly once the signal
	// goes away
	if s.using_manual_level {
		s.moving_avg_cap = 1.5 * s.manual_signal_level
	} else {
		s.moving_avg_cap = 1.5 * s.normal_signal_ratio * s.noise_floor
	}
}

func (s *Squelch) update_moving_avg(avg *moving_average_t, sample float32) {
	const decay_factor = 0.99
	const new_factor = 1.0 - decay_factor

	avg.full = avg.full*decay_factor + sample*new_factor

	// Cap average level (if current value and update are both at/above the
	// max then the float multiplications can be skipped)
	if avg.capped >= s.moving_avg_cap && sample >= s.moving_avg_cap {
		avg.capped = s.moving_avg_cap
	} else {
		avg.capped = min32(s.moving_avg_cap, avg.capped*decay_factor+sample*new_factor)
	}
}

func (s *Squelch) currently_flapping() bool {
	return s.recent_open_count >= s.flap_opens_threshold
}
