package skywave

/*------------------------------------------------------------------
 *
 * Purpose:	CTCSS (sub-audible tone) detection on demodulated audio.
 *
 * Description:	One Goertzel detector per candidate tone, see
 *		https://www.embedded.com/detecting-ctcss-tones-with-goertzels-algorithm/
 *		and https://www.embedded.com/the-goertzel-algorithm/
 *
 *		Each CTCSS instance runs the configured tone plus all the
 *		"standard" tones not within +/- 5 Hz, over a fixed window.
 *		The tone is present iff it is the strongest of the bank
 *		and above the bank's average power.
 *
 *---------------------------------------------------------------*/

import (
	"math"
	"sort"
)

type ToneDetector struct {
	tone_freq   float32
	magnitude   float32
	window_size int
	coeff       float32
	count       int
	q0, q1, q2  float32
}

func tone_detector_create(tone_freq, sample_rate float32, window_size int) ToneDetector {
	var t ToneDetector
	t.tone_freq = tone_freq
	t.window_size = window_size

	var k = int(0.5 + float64(window_size)*float64(tone_freq)/float64(sample_rate))
	var omega = (2.0 * math.Pi * float64(k)) / float64(window_size)
	t.coeff = float32(2.0 * math.Cos(omega))

	t.reset()
	return t
}

func (t *ToneDetector) process_sample(sample float32) {
	t.q0 = t.coeff*t.q1 - t.q2 + sample
	t.q2 = t.q1
	t.q1 = t.q0

	t.count++
	if t.count == t.window_size {
		t.magnitude = t.q1*t.q1 + t.q2*t.q2 - t.q1*t.q2*t.coeff
		t.count = 0
	}
}

func (t *ToneDetector) reset() {
	t.count = 0
	t.q0, t.q1, t.q2 = 0.0, 0.0, 0.0
}

func (t *ToneDetector) relative_power() float32 {
	return t.magnitude
}

func (t *ToneDetector) freq() float32 {
	return t.tone_freq
}

func (t *ToneDetector) coefficient() float32 {
	return t.coeff
}

type PowerIndex struct {
	power float32
	freq  float32
}

type ToneDetectorSet struct {
	tones []ToneDetector
}

func (s *ToneDetectorSet) add(tone_freq, sample_rate float32, window_size int) bool {
	var new_tone = tone_detector_create(tone_freq, sample_rate, window_size)

	for i := range s.tones {
		if new_tone.coefficient() == s.tones[i].coefficient() {
			log_debug("skipping tone, too close to other tones", "freq", tone_freq)
			return false
		}
	}

	s.tones = append(s.tones, new_tone)
	return true
}

func (s *ToneDetectorSet) process_sample(sample float32) {
	for i := range s.tones {
		s.tones[i].process_sample(sample)
	}
}

func (s *ToneDetectorSet) reset() {
	for i := range s.tones {
		s.tones[i].reset()
	}
}

// sorted_powers fills powers strongest-first and returns the average power
// across the bank.
func (s *ToneDetectorSet) sorted_powers(powers *[]PowerIndex) float32 {
	*powers = (*powers)[:0]

	var total_power float32
	for i := range s.tones {
		*powers = append(*powers, PowerIndex{s.tones[i].relative_power(), s.tones[i].freq()})
		total_power += s.tones[i].relative_power()
	}

	sort.Slice(*powers, func(a, b int) bool {
		return (*powers)[a].power > (*powers)[b].power
	})

	return total_power / float32(len(s.tones))
}

var ctcss_standard_tones = []float32{
	67.0, 69.3, 71.9, 74.4, 77.0, 79.7, 82.5, 85.4, 88.5, 91.5, 94.8, 97.4, 100.0, 103.5, 107.2,
	110.9, 114.8, 118.8, 123.0, 127.3, 131.8, 136.5, 141.3, 146.2, 150.0, 151.4, 156.7, 159.8,
	162.2, 165.5, 167.9, 171.3, 173.8, 177.3, 179.9, 183.5, 186.2, 189.9, 192.8, 196.6, 199.5,
	203.5, 206.5, 210.7, 218.1, 225.7, 229.1, 233.6, 241.8, 250.3, 254.1,
}

type CTCSS struct {
	enabled         bool
	ctcss_freq      float32
	window_size     int
	found_count     uint64
	not_found_count uint64

	powers ToneDetectorSet

	enough_samples_flag bool
	sample_count        int
	has_tone_flag       bool

	scratch []PowerIndex
}

func ctcss_create(ctcss_freq, sample_rate float32, window_size int) CTCSS {
	var c CTCSS
	c.enabled = true
	c.ctcss_freq = ctcss_freq
	c.window_size = window_size

	log_debug("adding CTCSS detector", "freq", ctcss_freq, "sample_rate", sample_rate, "window", window_size)

	// Add the target CTCSS frequency first followed by the other
	// "standard tones", except those within +/- 5 Hz
	c.powers.add(ctcss_freq, sample_rate, window_size)

	for _, tone := range ctcss_standard_tones {
		if math.Abs(float64(ctcss_freq-tone)) < 5 {
			log_debug("skipping tone, too close to configured tone", "freq", tone)
			continue
		}
		c.powers.add(tone, sample_rate, window_size)
	}

	// clear all values to start
	c.reset()
	return c
}

func (c *CTCSS) process_audio_sample(sample float32) {
	if !c.enabled {
		return
	}

	c.powers.process_sample(sample)

	c.sample_count++
	if c.sample_count < c.window_size {
		return
	}

	c.enough_samples_flag = true

	// this sample fills out the window, check if the strongest tone is
	// the CTCSS tone we are looking for
	var avg_power = c.powers.sorted_powers(&c.scratch)
	if c.scratch[0].freq == c.ctcss_freq && c.scratch[0].power > avg_power {
		c.has_tone_flag = true
		c.found_count++
	} else {
		c.has_tone_flag = false
		c.not_found_count++
	}

	// reset everything for the next window's worth of samples
	c.powers.reset()
	c.sample_count = 0
}

func (c *CTCSS) reset() {
	if c.enabled {
		c.powers.reset()
		c.enough_samples_flag = false
		c.sample_count = 0
		c.has_tone_flag = false
	}
}

func (c *CTCSS) is_enabled() bool {
	return c.enabled
}

func (c *CTCSS) enough_samples() bool {
	return c.enough_samples_flag
}

func (c *CTCSS) has_tone() bool {
	return !c.enabled || c.has_tone_flag
}

func (c *CTCSS) ctcss_count() uint64 {
	return c.found_count
}

func (c *CTCSS) no_ctcss_count() uint64 {
	return c.not_found_count
}
