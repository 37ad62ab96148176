package skywave

/*------------------------------------------------------------------
 *
 * Purpose:	Mixer related routines.
 *
 * Description:	Samples are delivered to mixer inputs in batches of
 *		WAVE_BATCH size (1/8 sec of audio).  The mixer thread
 *		emits mixed audio in batches of the same size, but the
 *		loop runs twice more often (MIX_DIVISOR = 2) in order to
 *		accommodate input jitter caused by irregular process
 *		scheduling, RTL clock instability, etc.  For this purpose
 *		each input batch may become delayed by 1/16 sec (max).
 *		This is accomplished by the mixer interval counter, which
 *		counts from 2 to 0:
 *		- 2 - initial state after mixed audio output.  We don't
 *		      expect inputs to be ready yet, but check anyway.
 *		- 1 - here we expect most (if not all) inputs to be ready,
 *		      so we mix them.  If there are no inputs left to handle
 *		      in this WAVE_BATCH interval, we emit the mixed audio
 *		      and reset the interval to the initial state (2).
 *		- 0 - here we expect output from all delayed inputs.  Any
 *		      input which is still not ready is skipped (filled
 *		      with 0s), because here we must emit the mixed audio
 *		      to keep the desired audio bitrate.
 *
 *---------------------------------------------------------------*/

import "time"

func mixer_disable(mixer *mixer_t) {
	mixer.enabled.Store(false)
	disable_channel_outputs(&mixer.channel)
}

// mixer_connect_input allocates an input slot once at startup and returns
// its index, or -1 on error.
func mixer_connect_input(mixer *mixer_t, ampfactor float32, balance float32) int {
	if mixer == nil {
		return -1
	}
	var input = &mixinput_t{
		wavein:    make([]float32, WAVE_LEN),
		ampfactor: ampfactor,
		ampl:      min32(1.0, 1.0-balance),
		ampr:      min32(1.0, 1.0+balance),
	}
	if balance != 0.0 {
		mixer.channel.mode = MM_STEREO
	}
	mixer.inputs = append(mixer.inputs, input)
	mixer.inputs_todo = append(mixer.inputs_todo, true)
	mixer.input_mask = append(mixer.input_mask, true)
	mixer.enabled.Store(true)
	log_debug("mixer input connected", "mixer", mixer.name,
		"ampfactor", ampfactor, "ampl", input.ampl, "ampr", input.ampr)
	return len(mixer.inputs) - 1
}

func mixer_disable_input(mixer *mixer_t, input_idx int) {
	var input = mixer.inputs[input_idx]
	input.mutex.Lock()
	mixer.input_mask[input_idx] = false
	input.mutex.Unlock()

	// break out if any inputs remain enabled
	for i := range mixer.inputs {
		mixer.inputs[i].mutex.Lock()
		var masked = mixer.input_mask[i]
		mixer.inputs[i].mutex.Unlock()
		if masked {
			return
		}
	}

	// all inputs are gone so disable the whole mixer
	log_info("disabling mixer - all inputs died", "mixer", mixer.name)
	mixer_disable(mixer)
}

func mixer_put_samples(mixer *mixer_t, input_idx int, samples []float32, has_signal bool, length int) {
	var input = mixer.inputs[input_idx]
	input.mutex.Lock()
	input.has_signal = has_signal
	if has_signal {
		copy(input.wavein[:length], samples[:length])
	}
	if input.ready {
		input.input_overrun_count.Add(1)
	} else {
		input.ready = true
	}
	input.mutex.Unlock()
}

func mix_waveforms(sum, in []float32, mult float32, size int) {
	if mult == 0.0 {
		return
	}
	for s := 0; s < size; s++ {
		sum[s] += in[s] * mult
	}
}

func mixer_thread(signal *Signal) {
	var interval = time.Duration(1e9 * WAVE_BATCH / WAVE_RATE / MIX_DIVISOR)

	if mixer_count <= 0 {
		return
	}
	for !do_exit.Load() {
		time.Sleep(interval)
		if do_exit.Load() {
			return
		}
		for i, mixer := range mixers {
			if !mixer.enabled.Load() {
				continue
			}
			var channel = &mixer.channel

			if channel.get_state() == CH_READY { // previous output not yet handled by output thread
				if mixer.interval--; mixer.interval > 0 {
					continue
				}
				log_debug("mixer output channel overrun", "mixer", i)
				mixer.output_overrun_count.Add(1)
			}

			for j, input := range mixer.inputs {
				input.mutex.Lock()
				if mixer.inputs_todo[j] && mixer.input_mask[j] && input.ready {
					if channel.get_state() == CH_DIRTY {
						clear(channel.waveout[:WAVE_BATCH])
						if channel.mode == MM_STEREO {
							clear(channel.waveout_r[:WAVE_BATCH])
						}
						channel.set_axcindicate(NO_SIGNAL)
						channel.set_state(CH_WORKING)
					}
					if input.has_signal {
						/* left channel */
						mix_waveforms(channel.waveout, input.wavein, input.ampfactor*input.ampl, WAVE_BATCH)
						/* right channel */
						if channel.mode == MM_STEREO {
							mix_waveforms(channel.waveout_r, input.wavein, input.ampfactor*input.ampr, WAVE_BATCH)
						}
						channel.set_axcindicate(SIGNAL)
					}
					input.ready = false
					mixer.inputs_todo[j] = false
				}
				input.mutex.Unlock()
			}

			// Check whether all "good" inputs have been handled, ie. there is
			// no enabled input (input_mask true) left to handle (inputs_todo
			// true).
			var all_good_inputs_handled = true
			for k := range mixer.inputs {
				mixer.inputs[k].mutex.Lock()
				if mixer.inputs_todo[k] && mixer.input_mask[k] {
					all_good_inputs_handled = false
				}
				mixer.inputs[k].mutex.Unlock()
				if !all_good_inputs_handled {
					break
				}
			}

			if all_good_inputs_handled || mixer.interval == 0 { // all good inputs handled or last interval passed
				channel.set_state(CH_READY)
				signal.send()
				mixer.interval = MIX_DIVISOR
				for k := range mixer.inputs_todo {
					mixer.inputs_todo[k] = true
				}
			} else {
				mixer.interval--
			}
		}
	}
}
