package skywave

/*------------------------------------------------------------------
 *
 * Purpose:	Main program: scan controller, FFT front stage, AM/NFM
 *		demodulation, AFC, thread setup and shutdown.
 *
 * Description:	One or more demod workers slide a shared FFT over each
 *		device's input ring buffer and extract every channel from
 *		a single FFT bin.  Each WAVE_BATCH worth of output audio
 *		is handed to the output stage through a condition
 *		variable.
 *
 *---------------------------------------------------------------*/

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"gonum.org/v1/gonum/dsp/fourier"
)

func controller_thread(dev *device_t) {
	defer close(dev.controller_done)

	var i = 0
	var consecutive_squelch_off = 0
	var polls_since_retune = 0

	if dev.channels[0].freqlist == nil || len(dev.channels[0].freqlist) < 2 {
		return
	}
	for !do_exit.Load() {
		SLEEP_MS(200)
		polls_since_retune++
		if dev.channels[0].get_axcindicate() == NO_SIGNAL {
			if consecutive_squelch_off < 10 {
				consecutive_squelch_off++
			} else if polls_since_retune >= 10 {
				polls_since_retune = 0
				i++
				i %= len(dev.channels[0].freqlist)
				dev.channels[0].freq_idx = i
				var new_centerfreq = dev.channels[0].freqlist[i].frequency + 20*(dev.input.sample_rate/fft_size)
				if input_set_centerfreq(dev.input, new_centerfreq) != nil {
					break
				}
			}
		} else {
			if consecutive_squelch_off == 10 {
				if log_scan_activity {
					log_info("scan activity", "freq_mhz",
						fmt.Sprintf("%7.3f", float64(dev.channels[0].freqlist[i].frequency)/1e6))
				}
				if i != dev.last_frequency {
					// squelch has just opened on a new frequency -
					// we might need to update outputs' metadata
					tag_queue_put(dev, i, time.Now())
					dev.last_frequency = i
				}
			}
			consecutive_squelch_off = 0
		}
	}
}

func multiply(ar, aj, br, bj float32) (cr, cj float32) {
	cr = ar*br - aj*bj
	cj = aj*br + ar*bj
	return cr, cj
}

func fast_atan2(y, x float32) float32 {
	const pi4 = float32(math.Pi / 4)
	const pi34 = float32(3 * math.Pi / 4)
	if x == 0.0 && y == 0.0 {
		return 0
	}
	var yabs = y
	if yabs < 0.0 {
		yabs = -yabs
	}
	var angle float32
	if x >= 0.0 {
		angle = pi4 - pi4*(x-yabs)/(x+yabs)
	} else {
		angle = pi34 - pi4*(x+yabs)/(yabs-x)
	}
	if y < 0.0 {
		return -angle
	}
	return angle
}

func polar_disc_fast(ar, aj, br, bj float32) float32 {
	var cr, cj = multiply(ar, aj, br, -bj)
	return fast_atan2(cj, cr) * float32(1.0/math.Pi)
}

func fm_quadri_demod(ar, aj, br, bj float32) float32 {
	return (br*aj - ar*bj) / (ar*ar + aj*aj + 1.0) * float32(1.0/math.Pi)
}

/*
 * AFC moves a channel's bin off the base bin once the squelch opens.  It
 * walks bin-by-bin downward first, and upward only if the downward walk did
 * not move.  The walk continues while the next bin's magnitude-squared is
 * strictly above the base bin's and exceeds it by at least a threshold; the
 * threshold starts at the first step's excess divided by afc and grows by
 * 10% per further step.  The last bin reached becomes the channel's bin;
 * losing the signal restores the base bin.
 */
type afc_t struct {
	prev_axcindicate status
}

func afc_capture(dev *device_t, index int) afc_t {
	return afc_t{prev_axcindicate: dev.channels[index].get_axcindicate()}
}

func fft_square(fft_results []complex128, index int) float32 {
	var re = float32(real(fft_results[index]))
	var im = float32(imag(fft_results[index]))
	return re*re + im*im
}

func afc_check(fft_results []complex128, base int, base_value float32, afc uint8, step int) int {
	var threshold float32 = 0
	var bin = base
	for {
		if step < 0 {
			if bin < -step {
				break
			}
		} else if bin+step >= fft_size {
			break
		}

		var value = fft_square(fft_results, bin+step)
		if value <= base_value {
			break
		}

		if base == bin {
			threshold = (value - base_value) / float32(afc)
		} else {
			if (value - base_value) < threshold {
				break
			}
			threshold += threshold / 10.0
		}
		bin += step
	}
	return bin
}

func (a *afc_t) finalize(dev *device_t, index int, fft_results []complex128) {
	var channel = dev.channels[index]
	if channel.afc == 0 {
		return
	}

	var axcindicate = channel.get_axcindicate()
	if axcindicate != NO_SIGNAL && a.prev_axcindicate == NO_SIGNAL {
		var base = dev.base_bins[index]
		var base_value = fft_square(fft_results, base)
		var bin = afc_check(fft_results, base, base_value, channel.afc, -1)
		if bin == base {
			bin = afc_check(fft_results, base, base_value, channel.afc, 1)
		}

		if dev.bins[index] != bin {
			dev.bins[index] = bin
			if bin > base {
				channel.set_axcindicate(AFC_UP)
			} else if bin < base {
				channel.set_axcindicate(AFC_DOWN)
			}
		}
	} else if axcindicate == NO_SIGNAL && a.prev_axcindicate != NO_SIGNAL {
		dev.bins[index] = dev.base_bins[index]
	}
}

func init_demod(signal *Signal, device_start, device_end int) *demod_params_t {
	return &demod_params_t{
		mp3_signal:   signal,
		device_start: device_start,
		device_end:   device_end,
	}
}

func init_output(device_start, device_end, mixer_start, mixer_end int) *output_params_t {
	return &output_params_t{
		mp3_signal:   NewSignal(),
		device_start: device_start,
		device_end:   device_end,
		mixer_start:  mixer_start,
		mixer_end:    mixer_end,
	}
}

func next_device(params *demod_params_t, current int) int {
	current++
	if current < params.device_end {
		return current
	}
	return params.device_start
}

// blackman_7_window precomputes the 7-term Blackman window of fft_size.
func blackman_7_window() []float64 {
	const a0 = 0.27105140069342
	const a1 = 0.43329793923448
	const a2 = 0.21812299954311
	const a3 = 0.06592544638803
	const a4 = 0.01081174209837
	const a5 = 0.00077658482522
	const a6 = 0.00001388721735

	var window = make([]float64, fft_size)
	for i := range window {
		var n = float64(i) / float64(fft_size-1)
		window[i] = a0 - a1*math.Cos(2.0*math.Pi*n) +
			a2*math.Cos(4.0*math.Pi*n) -
			a3*math.Cos(6.0*math.Pi*n) +
			a4*math.Cos(8.0*math.Pi*n) -
			a5*math.Cos(10.0*math.Pi*n) +
			a6*math.Cos(12.0*math.Pi*n)
	}
	return window
}

func demodulate(demod_params *demod_params_t) {
	// initialize fft engine and window
	var fft = fourier.NewCmplxFFT(fft_size)
	var fftin = make([]complex128, fft_size)
	var fftout = make([]complex128, fft_size)
	var window = blackman_7_window()

	var levels_u8 [256]float32
	var levels_s8 [256]float32
	for i := 0; i < 256; i++ {
		levels_u8[i] = (float32(i) - 127.5) / 127.5
	}
	for i := -127; i < 128; i++ {
		levels_s8[uint8(int8(i))] = float32(i) / 128.0
	}

	var device_num = demod_params.device_start
	for {
		if do_exit.Load() {
			return
		}

		var dev = devices[device_num]
		var input = dev.input

		input.buffer_lock.Lock()
		var available int
		if input.bufe >= input.bufs {
			available = input.bufe - input.bufs
		} else {
			available = input.buf_size - input.bufs + input.bufe
		}
		var bufs = input.bufs
		input.buffer_lock.Unlock()

		if devices_running.Load() == 0 {
			log_error("all receivers failed, exiting")
			do_exit.Store(true)
			continue
		}

		if input.get_state() != INPUT_RUNNING {
			if input.get_state() == INPUT_FAILED {
				input.set_state(INPUT_DISABLED)
				disable_device_outputs(dev)
				devices_running.Add(-1)
			}
			device_num = next_device(demod_params, device_num)
			SLEEP_MS(10)
			continue
		}

		// number of input bytes per output wave sample (x 2 for I and Q)
		var bps = 2 * input.bytes_per_sample *
			int(math.Round(float64(input.sample_rate)/float64(WAVE_RATE)))
		if available < bps*FFT_BATCH+fft_size*input.bytes_per_sample*2 {
			// move to next device
			device_num = next_device(demod_params, device_num)
			SLEEP_MS(10)
			continue
		}

		// convert fft_size raw complex samples at bufs to floats normalized
		// to [-1, 1] and apply the window
		switch input.sfmt {
		case SFMT_S16:
			var scale = 1.0 / float64(input.fullscale)
			var buf2 = input.buffer[bufs:]
			for i := 0; i < fft_size; i++ {
				var re = float64(int16(binary.LittleEndian.Uint16(buf2[4*i:])))
				var im = float64(int16(binary.LittleEndian.Uint16(buf2[4*i+2:])))
				fftin[i] = complex(scale*re*window[i], scale*im*window[i])
			}
		case SFMT_F32:
			var scale = 1.0 / float64(input.fullscale)
			var buf2 = input.buffer[bufs:]
			for i := 0; i < fft_size; i++ {
				var re = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf2[8*i:])))
				var im = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf2[8*i+4:])))
				fftin[i] = complex(scale*re*window[i], scale*im*window[i])
			}
		default: // S8 or U8
			var levels = &levels_u8
			if input.sfmt == SFMT_S8 {
				levels = &levels_s8
			}
			var buf2 = input.buffer[bufs:]
			for i := 0; i < fft_size; i++ {
				fftin[i] = complex(float64(levels[buf2[2*i]])*window[i],
					float64(levels[buf2[2*i+1]])*window[i])
			}
		}

		fftout = fft.Coefficients(fftout, fftin)

		for j := range dev.channels {
			var channel = dev.channels[j]
			var bin = dev.bins[j]
			var re = float32(real(fftout[bin]))
			var im = float32(imag(fftout[bin]))
			channel.wavein[dev.waveend] = float32(math.Sqrt(float64(re*re + im*im)))
			if channel.needs_raw_iq {
				channel.iq_in[2*dev.waveend] = re
				channel.iq_in[2*dev.waveend+1] = im
			}
		}

		dev.waveend += FFT_BATCH

		if dev.waveend >= WAVE_BATCH+AGC_EXTRA {
			for i := range dev.channels {
				var afc = afc_capture(dev, i)
				var channel = dev.channels[i]
				var fparms = channel.freqlist[channel.freq_idx]

				// set to NO_SIGNAL, will be updated to SIGNAL based on squelch below
				channel.set_axcindicate(NO_SIGNAL)

				for j := AGC_EXTRA; j < WAVE_BATCH+AGC_EXTRA; j++ {

					fparms.squelch.process_raw_sample(channel.wavein[j])

					// If squelch is open / opening and using I/Q, then clean up
					// the signal and possibly update squelch.
					if fparms.squelch.should_filter_sample() && channel.needs_raw_iq {

						// remove phase rotation introduced by the FFT sliding window
						var swf, cwf = sincosf_lut(channel.dm_phi)
						var re_tmp, im_tmp = multiply(channel.iq_in[2*(j-AGC_EXTRA)],
							channel.iq_in[2*(j-AGC_EXTRA)+1], cwf, -swf)
						channel.dm_phi += channel.dm_dphi
						channel.dm_phi &= 0xffffff

						// apply the lowpass filter, a no-op if not configured
						fparms.lowpass_filter.apply(&re_tmp, &im_tmp)

						// update I/Q and wave
						channel.iq_in[2*(j-AGC_EXTRA)] = re_tmp
						channel.iq_in[2*(j-AGC_EXTRA)+1] = im_tmp
						channel.wavein[j] = float32(math.Sqrt(float64(re_tmp*re_tmp + im_tmp*im_tmp)))

						// update squelch post-cleanup
						if fparms.lowpass_filter.is_enabled() {
							fparms.squelch.process_filtered_sample(channel.wavein[j])
						}
					}

					if fparms.modulation == MOD_AM {
						// if squelch is just opening then bootstrap agcavgfast
						// with prior values of wavein
						if fparms.squelch.first_open_sample() {
							for k := j - AGC_EXTRA; k < j; k++ {
								if channel.wavein[k] >= fparms.squelch.squelch_level() {
									fparms.agcavgfast = fparms.agcavgfast*0.9 + channel.wavein[k]*0.1
								}
							}
						} else if fparms.squelch.last_open_sample() {
							// if squelch is just closing then fade out the prior samples of waveout
							for k := j - AGC_EXTRA + 1; k < j; k++ {
								channel.waveout[k] = channel.waveout[k-1] * 0.94
							}
						}
					}

					var real_s = channel.iq_in[2*(j-AGC_EXTRA)]
					var imag_s = channel.iq_in[2*(j-AGC_EXTRA)+1]

					// If squelch sees power then do modulation-specific processing
					if fparms.squelch.should_process_audio() {
						if fparms.modulation == MOD_AM {
							if channel.wavein[j] > fparms.squelch.squelch_level() {
								fparms.agcavgfast = fparms.agcavgfast*0.995 + channel.wavein[j]*0.005
							}

							channel.waveout[j] = (channel.wavein[j-AGC_EXTRA] - fparms.agcavgfast) / (fparms.agcavgfast * 1.5)
							if abs32(channel.waveout[j]) > 0.8 {
								channel.waveout[j] *= 0.85
								fparms.agcavgfast *= 1.15
							}
						} else if fparms.modulation == MOD_NFM {
							// FM demod
							if fm_demod == FM_FAST_ATAN2 {
								channel.waveout[j] = polar_disc_fast(real_s, imag_s, channel.pr, channel.pj)
							} else {
								channel.waveout[j] = fm_quadri_demod(real_s, imag_s, channel.pr, channel.pj)
							}
							channel.pr = real_s
							channel.pj = imag_s

							// de-emphasis IIR + DC blocking
							fparms.agcavgfast = fparms.agcavgfast*0.995 + channel.waveout[j]*0.005
							channel.waveout[j] -= fparms.agcavgfast
							channel.waveout[j] = channel.waveout[j]*(1.0-channel.alpha) + channel.prev_waveout*channel.alpha

							// save off waveout before notch and ampfactor
							channel.prev_waveout = channel.waveout[j]
						}

						// process the audio sample for CTCSS, a no-op if not configured
						fparms.squelch.process_audio_sample(channel.waveout[j])
					}

					// If squelch is still open then save the sample to the output
					if fparms.squelch.is_open() {

						// apply the notch filter, a no-op if not configured
						fparms.notch_filter.apply(&channel.waveout[j])

						// apply the ampfactor
						channel.waveout[j] *= fparms.ampfactor

						// make sure the value is between +/- 1 (the encoder requires it)
						if channel.waveout[j] != channel.waveout[j] {
							channel.waveout[j] = 0.0
						} else if channel.waveout[j] > 1.0 {
							channel.waveout[j] = 1.0
						} else if channel.waveout[j] < -1.0 {
							channel.waveout[j] = -1.0
						}

						channel.set_axcindicate(SIGNAL)
						if channel.has_iq_outputs {
							channel.iq_out[2*(j-AGC_EXTRA)] = real_s
							channel.iq_out[2*(j-AGC_EXTRA)+1] = imag_s
						}

						// Squelch is closed
					} else {
						channel.waveout[j] = 0
						if channel.has_iq_outputs {
							channel.iq_out[2*(j-AGC_EXTRA)] = 0
							channel.iq_out[2*(j-AGC_EXTRA)+1] = 0
						}
					}
				}
				copy(channel.wavein[:dev.waveend-WAVE_BATCH], channel.wavein[WAVE_BATCH:dev.waveend])
				if channel.needs_raw_iq {
					copy(channel.iq_in[:2*(dev.waveend-WAVE_BATCH)], channel.iq_in[2*WAVE_BATCH:2*dev.waveend])
				}

				afc.finalize(dev, i, fftout)

				if tui {
					tui_update_channel(device_num, dev, i, channel, fparms)
				}

				if channel.get_axcindicate() != NO_SIGNAL {
					fparms.active_counter.Add(1)
				}
			}
			if dev.waveavail.Load() == 1 {
				dev.output_overrun_count.Add(1)
			} else {
				dev.waveavail.Store(1)
			}
			dev.waveend -= WAVE_BATCH
			demod_params.mp3_signal.send()
			dev.row++
			if dev.row == 12 {
				dev.row = 0
			}
		}

		input.buffer_lock.Lock()
		input.bufs = (input.bufs + bps*FFT_BATCH) % input.buf_size
		input.buffer_lock.Unlock()
		device_num = next_device(demod_params, device_num)
	}
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

func usage() {
	fmt.Print(`Usage: skywave [options] [-c <config_file_path>]
	-h			Display this help text
	-f			Run in foreground, display textual waterfalls
	-F			Run in foreground, do not display waterfalls (e.g. as a systemd service)
	-Q			Use quadri correlator for FM demodulation (default is atan2)
	-d <file>		Log debugging information to <file>
	-e			Print messages to standard error
	-c <config_file_path>	Use non-default configuration file
	-v			Display version and exit
`)
	os.Exit(0)
}

func count_devices_running() int {
	var ret = 0
	for _, dev := range devices {
		if dev.input.get_state() == INPUT_RUNNING {
			ret++
		}
	}
	return ret
}

// Main is the whole program; cmd/skywave is a thin wrapper around it.
func Main() {
	var cfgfile = pflag.StringP("config", "c", "/usr/local/etc/skywave.conf", "Use non-default configuration file")
	var foreground_tui = pflag.BoolP("foreground", "f", false, "Run in foreground, display textual waterfalls")
	var foreground = pflag.BoolP("foreground-no-tui", "F", false, "Run in foreground, no waterfalls")
	var stderr_log = pflag.BoolP("stderr", "e", false, "Print messages to standard error")
	var quadri = pflag.BoolP("quadri", "Q", false, "Use quadri correlator for FM demodulation")
	var debug_path = pflag.StringP("debug-log", "d", "", "Log debugging information to a file")
	var show_version = pflag.BoolP("version", "v", false, "Display version and exit")
	var show_help = pflag.BoolP("help", "h", false, "Display help text")
	pflag.Parse()

	if *show_help {
		usage()
	}
	if *show_version {
		fmt.Printf("skywave version %s\n", SKYWAVE_VERSION)
		os.Exit(0)
	}
	if *quadri {
		fm_demod = FM_QUADRI_DEMOD
	}
	tui = *foreground_tui
	_ = *foreground
	_ = *stderr_log // all logging already goes to stderr in this port

	log_init(*debug_path)
	defer log_close()

	var cfg, err = read_config(*cfgfile)
	if err != nil {
		log_fatal("configuration failed", "error", err)
	}
	if err := apply_global_config(cfg); err != nil {
		log_fatal("configuration error", "error", err)
	}

	var sigch = make(chan os.Signal, 1)
	signal.Notify(sigch, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	go func() {
		var sig = <-sigch
		log_info("got signal, exiting", "signal", sig)
		do_exit.Store(true)
	}()

	if len(cfg.Mixers) > 0 {
		if err := parse_mixers(cfg.Mixers); err != nil {
			log_fatal("configuration error", "error", err)
		}
	}
	if err := parse_devices(cfg.Devices); err != nil {
		log_fatal("configuration error", "error", err)
	}

	log_info("skywave starting", "version", SKYWAVE_VERSION)

	if cfg.Pidfile != "" {
		if err := os.WriteFile(cfg.Pidfile, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644); err != nil {
			log_warn("cannot write pidfile", "path", cfg.Pidfile, "error", err)
		}
	}

	// initialize mixer outputs
	for i, mixer := range mixers {
		if !mixer.enabled.Load() {
			continue // no inputs connected = no need to initialize outputs
		}
		var channel = &mixer.channel
		if channel.need_mp3 {
			channel.lame = airlame_init(channel.mode, channel.highpass, channel.lowpass)
		}
		for k, output := range channel.outputs {
			switch output.otype {
			case O_ICECAST:
				shout_setup(output.data.(*icecast_data), channel.mode)
			case O_UDP_STREAM:
				if !udp_stream_init(output.data.(*udp_stream_data), channel.mode, WAVE_BATCH) {
					log_fatal("failed to initialize mixer output", "mixer", i, "output", k)
				}
			case O_PULSE:
				pulse_init()
				pulse_setup(output.data.(*pulse_data), channel.mode)
			}
		}
	}

	// initialize device outputs and start inputs
	for i, dev := range devices {
		for j, channel := range dev.channels {
			if channel.need_mp3 {
				channel.lame = airlame_init(channel.mode, channel.highpass, channel.lowpass)
			}
			for k, output := range channel.outputs {
				switch output.otype {
				case O_ICECAST:
					shout_setup(output.data.(*icecast_data), channel.mode)
				case O_UDP_STREAM:
					if !udp_stream_init(output.data.(*udp_stream_data), channel.mode, WAVE_BATCH) {
						log_fatal("failed to initialize output", "device", i, "channel", j, "output", k)
					}
				case O_PULSE:
					pulse_init()
					pulse_setup(output.data.(*pulse_data), channel.mode)
				}
			}
		}
		if err := input_init(dev.input); err != nil {
			log_fatal("failed to initialize input device", "device", i, "error", err)
		}
		if err := input_start(dev.input); err != nil {
			log_fatal("failed to start input device", "device", i, "error", err)
		}
		if dev.mode == R_SCAN {
			go controller_thread(dev)
		} else {
			close(dev.controller_done)
		}
	}

	var timeout = 50 // 5 seconds
	for count_devices_running() != device_count && timeout > 0 {
		SLEEP_MS(100)
		timeout--
	}
	var running = count_devices_running()
	devices_running.Store(int32(running))
	if running != device_count {
		log_fatal("some devices failed to initialize, aborting", "failed", device_count-running)
	}
	if tui {
		tui_draw_frame()
	}

	go output_check_thread()

	var demod_thread_count = 1
	if multiple_demod_threads {
		demod_thread_count = device_count
	}
	var demod_params = make([]*demod_params_t, demod_thread_count)

	var output_thread_count = 1
	if multiple_output_threads {
		output_thread_count = demod_thread_count
		if mixer_count > 0 {
			output_thread_count++
		}
	}
	var output_params = make([]*output_params_t, output_thread_count)

	// Set up the output and demod thread parameters
	if !multiple_output_threads {
		output_params[0] = init_output(0, device_count, 0, mixer_count)
		if !multiple_demod_threads {
			demod_params[0] = init_demod(output_params[0].mp3_signal, 0, device_count)
		} else {
			for i := 0; i < demod_thread_count; i++ {
				demod_params[i] = init_demod(output_params[0].mp3_signal, i, i+1)
			}
		}
	} else {
		if !multiple_demod_threads {
			output_params[0] = init_output(0, device_count, 0, 0)
			demod_params[0] = init_demod(output_params[0].mp3_signal, 0, device_count)
		} else {
			for i := 0; i < device_count; i++ {
				output_params[i] = init_output(i, i+1, 0, 0)
				demod_params[i] = init_demod(output_params[i].mp3_signal, i, i+1)
			}
		}
		if mixer_count > 0 {
			output_params[output_thread_count-1] = init_output(0, 0, 0, mixer_count)
		}
	}

	// Start the output threads
	var output_done = make([]chan struct{}, output_thread_count)
	for i := 0; i < output_thread_count; i++ {
		output_done[i] = make(chan struct{})
		go func(p *output_params_t, done chan struct{}) {
			output_thread(p)
			close(done)
		}(output_params[i], output_done[i])
	}

	// Start the mixer thread (if there is one) using the signal of the last
	// output thread
	var mixer_done chan struct{}
	if mixer_count > 0 {
		mixer_done = make(chan struct{})
		go func() {
			mixer_thread(output_params[output_thread_count-1].mp3_signal)
			close(mixer_done)
		}()
	}

	sincosf_lut_init()

	// Start the demod threads
	var demod_done = make([]chan struct{}, demod_thread_count)
	for i := 0; i < demod_thread_count; i++ {
		demod_done[i] = make(chan struct{})
		go func(p *demod_params_t, done chan struct{}) {
			demodulate(p)
			close(done)
		}(demod_params[i], demod_done[i])
	}

	// Wait for the demod threads to exit
	for i := 0; i < demod_thread_count; i++ {
		<-demod_done[i]
	}

	log_info("cleaning up")
	for i, dev := range devices {
		<-dev.controller_done
		if err := input_stop(dev.input); err != nil || dev.input.get_state() != INPUT_STOPPED {
			log_error("failed to stop device", "device", i, "error", err)
		}
	}
	log_info("input threads closed")

	for _, dev := range devices {
		disable_device_outputs(dev)
	}

	if mixer_count > 0 {
		log_info("closing mixer thread")
		<-mixer_done
	}

	log_info("closing output thread(s)")
	for i := 0; i < output_thread_count; i++ {
		output_params[i].mp3_signal.send()
		<-output_done[i]
	}

	// final metrics snapshot
	var never time.Time
	write_stats_file(&never)
}
