package skywave

/*------------------------------------------------------------------
 *
 * Purpose:	Test signal input driver.
 *
 * Description:	Synthesizes a u8 complex-baseband stream from a set of
 *		carrier offsets, optionally with gaussian noise.  Mainly
 *		useful for end-to-end checks without radio hardware or
 *		capture files.
 *
 *---------------------------------------------------------------*/

import (
	"math"
	"time"
)

type testsignal_input struct {
	tones          []testsignal_tone
	noise          Noise
	has_noise      bool
	speedup_factor float64
	phase          uint64
}

type testsignal_tone struct {
	offset int // Hz relative to center frequency
	ampl   float32
}

func (d *testsignal_input) typename() string {
	return "testsignal"
}

func (d *testsignal_input) parse_config(input *input_t, cfg *DeviceConfig) error {
	for _, t := range cfg.Tones {
		d.tones = append(d.tones, testsignal_tone{offset: int(t.Offset), ampl: float32(t.Ampl)})
	}
	if cfg.Noise > 0 {
		d.noise = noise_create(float32(cfg.Noise), 1)
		d.has_noise = true
	}
	if cfg.SpeedupFactor != 0 {
		d.speedup_factor = cfg.SpeedupFactor
	} else {
		d.speedup_factor = 1
	}
	input.sfmt = SFMT_U8
	input.bytes_per_sample = 1
	input.fullscale = 127.5
	return nil
}

func (d *testsignal_input) init(input *input_t) error {
	log_info("testsignal input initialized", "tones", len(d.tones), "noise", d.has_noise)
	return nil
}

func (d *testsignal_input) rx(input *input_t) {
	// one chunk is ~50 ms of samples
	var chunk_samples = input.sample_rate / 20
	var buf = make([]byte, 2*chunk_samples)

	var chunk_interval = time.Duration(float64(time.Second) * float64(chunk_samples) /
		(float64(input.sample_rate) * d.speedup_factor))

	input.set_state(INPUT_RUNNING)

	for !do_exit.Load() {
		var start = time.Now()

		input.buffer_lock.Lock()
		var space_left int
		if input.bufe >= input.bufs {
			space_left = input.bufs + (input.buf_size - input.bufe)
		} else {
			space_left = input.bufs - input.bufe
		}
		input.buffer_lock.Unlock()

		if space_left > len(buf) {
			for i := 0; i < chunk_samples; i++ {
				var re, im float32
				var t = float64(d.phase) / float64(input.sample_rate)
				for _, tone := range d.tones {
					var phi = 2 * math.Pi * float64(tone.offset) * t
					re += tone.ampl * float32(math.Cos(phi))
					im += tone.ampl * float32(math.Sin(phi))
				}
				if d.has_noise {
					re += d.noise.get_sample()
					im += d.noise.get_sample()
				}
				d.phase++
				buf[2*i] = float_to_u8(re)
				buf[2*i+1] = float_to_u8(im)
			}
			circbuffer_append(input, buf)

			var sleep_time = chunk_interval - time.Since(start)
			if sleep_time > 0 {
				time.Sleep(sleep_time)
			}
		} else {
			SLEEP_MS(10)
		}
	}
}

func float_to_u8(v float32) byte {
	var scaled = 127.5 + v*127.5
	if scaled < 0 {
		return 0
	}
	if scaled > 255 {
		return 255
	}
	return byte(scaled)
}

func (d *testsignal_input) set_centerfreq(input *input_t, centerfreq int) error {
	return nil
}

func (d *testsignal_input) stop(input *input_t) error {
	return nil
}
