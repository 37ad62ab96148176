package skywave

/*------------------------------------------------------------------
 *
 * Purpose:	Output related routines.
 *
 * Description:	Output threads wake on a condition variable whenever a
 *		demod batch (per device) or a mixer round is ready, then
 *		fan the audio out to each enabled sink.  File sinks handle
 *		timestamped naming, dated subdirectories, split/append
 *		modes and atomic .tmp renames here.
 *
 *---------------------------------------------------------------*/

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/lestrrat-go/strftime"
)

type file_data struct {
	ftype                 output_type
	basedir               string
	basename              string
	suffix                string
	file_path             string
	file_path_tmp         string
	dated_subdirectories  bool
	continuous            bool
	append                bool
	split_on_transmission bool
	include_freq          bool
	open_time             time.Time
	last_write_time       time.Time
	f                     *os.File
}

/*
 * Open an output file (mp3 or raw IQ) for append or initial write.
 * If appending to an audio file, insert discontinuity indicator tones
 * as well as the appropriate amount of silence when in continuous mode.
 */
func open_file(fdata *file_data, mixmode mix_modes, is_audio bool) error {
	rename_file_if_exists(fdata.file_path, fdata.file_path_tmp)

	var flags = os.O_CREATE | os.O_WRONLY
	if fdata.append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	var f, err = os.OpenFile(fdata.file_path_tmp, flags, 0644)
	if err != nil {
		return err
	}
	fdata.f = f

	var st, serr = f.Stat()
	if !fdata.append || serr != nil || st.Size() == 0 {
		if !fdata.split_on_transmission {
			log_info("writing output file", "path", fdata.file_path)
		} else {
			log_debug("writing output file", "path", fdata.file_path_tmp)
		}
		return nil
	}
	log_info("appending to output file", "path", fdata.file_path, "pos", st.Size())

	if is_audio {
		// fill missing space with marker tones
		var lt_a = lame_tone(mixmode, 120, 2222)
		var lt_b = lame_tone(mixmode, 120, 1111)
		var lt_c = lame_tone(mixmode, 120, 555)

		var werr error
		for _, tone := range [][]byte{lt_a, lt_b, lt_c} {
			if werr == nil {
				_, werr = f.Write(tone)
			}
		}

		// fill in the time delta with silence if continuous output mode
		if fdata.continuous && werr == nil {
			var delta = time.Now().Unix() - st.ModTime().Unix()
			if delta > 3600 {
				log_warn("too big time difference when appending, limiting to one hour", "delta_sec", delta)
				delta = 3600
			}
			var lt_silence = lame_tone(mixmode, 1000, 0)
			for ; werr == nil && delta > 1; delta-- {
				_, werr = f.Write(lt_silence)
			}
		}

		for _, tone := range [][]byte{lt_c, lt_b, lt_a} {
			if werr == nil {
				_, werr = f.Write(tone)
			}
		}

		if werr != nil {
			log_warn("failed to write marker tones", "path", fdata.file_path, "error", werr)
			f.Seek(st.Size(), 0)
		}
	}
	return nil
}

func close_file(channel *channel_t, fdata *file_data) {
	if fdata == nil {
		return
	}

	if fdata.f != nil {
		fdata.f.Close()
		fdata.f = nil
		rename_file_if_exists(fdata.file_path_tmp, fdata.file_path)
	}
	fdata.file_path = ""
	fdata.file_path_tmp = ""
}

/*
 * Close the current output file based on certain conditions:
 * If "split_on_transmission" mode is true check:
 *   If current duration is too long, or we've been idle too long
 * else (append or continuous) check:
 *   if the hour is different.
 */
func close_if_necessary(channel *channel_t, fdata *file_data) {
	const MIN_TRANSMISSION_TIME_SEC = 1.0
	const MAX_TRANSMISSION_TIME_SEC = 60.0 * 60.0
	const MAX_TRANSMISSION_IDLE_SEC = 0.5

	if fdata == nil || fdata.f == nil {
		return
	}

	var current_time = time.Now()

	if fdata.split_on_transmission {
		var duration_sec = delta_sec(fdata.open_time, current_time)
		var idle_sec = delta_sec(fdata.last_write_time, current_time)

		if duration_sec > MAX_TRANSMISSION_TIME_SEC ||
			(duration_sec > MIN_TRANSMISSION_TIME_SEC && idle_sec > MAX_TRANSMISSION_IDLE_SEC) {
			log_debug("closing file", "path", fdata.file_path, "duration_sec", duration_sec, "idle_sec", idle_sec)
			close_file(channel, fdata)
		}
		return
	}

	// Check if the hour boundary was just crossed.  The actual hour number
	// doesn't matter but localtime still applies if enabled (some
	// timezones have partial hour offsets).
	var start_hour, current_hour int
	if use_localtime {
		start_hour = fdata.open_time.Local().Hour()
		current_hour = current_time.Local().Hour()
	} else {
		start_hour = fdata.open_time.UTC().Hour()
		current_hour = current_time.UTC().Hour()
	}

	if start_hour != current_hour {
		log_debug("closing file after crossing hour boundary", "path", fdata.file_path)
		close_file(channel, fdata)
	}
}

/*
 * For a particular channel file output, check if there is a file currently
 * open.  If so, that file may need to be flushed and closed.
 *
 * If the existing open file is good for continued use, return true.
 * Otherwise, create a file name based on the current timestamp and open
 * that new file.
 */
func output_file_ready(channel *channel_t, fdata *file_data, mixmode mix_modes, is_audio bool) bool {
	if fdata == nil {
		return false
	}

	close_if_necessary(channel, fdata)

	if fdata.f != nil { // still open
		return true
	}

	var current_time = time.Now()
	var file_time = current_time.UTC()
	if use_localtime {
		file_time = current_time.Local()
	}

	var pattern = "_%Y%m%d_%H"
	if fdata.split_on_transmission {
		pattern = "_%Y%m%d_%H%M%S"
	}
	var timestamp, terr = strftime.Format(pattern, file_time)
	if terr != nil {
		log_warn("strftime failed", "error", terr)
		return false
	}

	var output_dir string
	if fdata.dated_subdirectories {
		output_dir = make_dated_subdirs(fdata.basedir, file_time)
		if output_dir == "" {
			log_error("failed to create dated subdirectory", "basedir", fdata.basedir)
			return false
		}
	} else {
		output_dir = fdata.basedir
		make_dir(output_dir)
	}

	var name = fdata.basename + timestamp
	if fdata.include_freq {
		name = fmt.Sprintf("%s_%d", name, channel.freqlist[channel.freq_idx].frequency)
	}
	fdata.file_path = filepath.Join(output_dir, name+fdata.suffix)
	fdata.file_path_tmp = fdata.file_path + ".tmp"

	fdata.open_time = current_time
	fdata.last_write_time = current_time

	if err := open_file(fdata, mixmode, is_audio); err != nil {
		log_warn("cannot open output file", "path", fdata.file_path_tmp, "error", err)
		return false
	}

	return true
}

// write_iq_out serializes WAVE_BATCH raw complex float samples (.cf32).
func write_iq_out(f *os.File, iq []float32) (int, error) {
	var buf = make([]byte, 4*len(iq))
	for i, v := range iq {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return f.Write(buf)
}

// process_outputs creates all the output for a particular channel.
func process_outputs(channel *channel_t, cur_scan_freq int) {
	var mp3_bytes []byte
	if channel.need_mp3 {
		var right = channel.waveout_r[:WAVE_BATCH]
		if channel.mode != MM_STEREO {
			right = nil
		}
		var encoded, err = channel.lame.encode(channel.waveout[:WAVE_BATCH], right)
		if err != nil {
			log_warn("mp3 encoding failed, dropping batch", "error", err)
		} else {
			mp3_bytes = encoded
		}
	}
	for k := range channel.outputs {
		var output = channel.outputs[k]
		if !output.enabled {
			continue
		}
		switch output.otype {
		case O_ICECAST:
			var icecast = output.data.(*icecast_data)
			if icecast.shout == nil || len(mp3_bytes) == 0 {
				continue
			}
			var err = icecast.shout.send(mp3_bytes)
			if err != nil || icecast.shout.is_dead() || icecast.shout.queuelen() > MAX_SHOUT_QUEUELEN {
				if icecast.shout.queuelen() > MAX_SHOUT_QUEUELEN {
					log_warn("exceeded max backlog, disconnecting",
						"server", icecast.hostname, "port", icecast.port, "mountpoint", icecast.mountpoint)
				}
				// reset connection
				log_warn("lost connection to icecast",
					"server", icecast.hostname, "port", icecast.port, "mountpoint", icecast.mountpoint)
				shout_close(icecast)
			} else if icecast.send_scan_freq_tags && cur_scan_freq >= 0 {
				var song = channel.freqlist[channel.freq_idx].label
				if song == "" {
					song = fmt.Sprintf("%.3f MHz", float64(channel.freqlist[channel.freq_idx].frequency)/1e6)
				}
				if err := shout_set_metadata(icecast, song); err != nil {
					log_warn("failed to update icecast metadata", "error", err)
				}
			}
		case O_FILE, O_RAWFILE:
			var fdata = output.data.(*file_data)

			if !fdata.continuous && channel.get_axcindicate() == NO_SIGNAL && !output.active {
				close_if_necessary(channel, fdata)
				continue
			}

			if output.otype == O_FILE && len(mp3_bytes) == 0 {
				continue
			}

			if !output_file_ready(channel, fdata, channel.mode, output.otype == O_FILE) {
				log_warn("output disabled", "basedir", fdata.basedir, "basename", fdata.basename)
				output.enabled = false
				continue
			}

			var werr error
			if output.otype == O_FILE {
				_, werr = fdata.f.Write(mp3_bytes)
			} else {
				_, werr = write_iq_out(fdata.f, channel.iq_out[:2*WAVE_BATCH])
			}
			if werr != nil {
				log_warn("cannot write to output file, output disabled", "path", fdata.file_path, "error", werr)
				close_file(channel, fdata)
				output.enabled = false
			}
			output.active = channel.get_axcindicate() != NO_SIGNAL
			fdata.last_write_time = time.Now()
		case O_MIXER:
			var mdata = output.data.(*mixer_data)
			mixer_put_samples(mdata.mixer, mdata.input, channel.waveout,
				channel.get_axcindicate() != NO_SIGNAL, WAVE_BATCH)
		case O_UDP_STREAM:
			var sdata = output.data.(*udp_stream_data)

			if !sdata.continuous && channel.get_axcindicate() == NO_SIGNAL {
				continue
			}

			if channel.mode == MM_MONO {
				udp_stream_write(sdata, channel.waveout[:WAVE_BATCH])
			} else {
				udp_stream_write_stereo(sdata, channel.waveout[:WAVE_BATCH], channel.waveout_r[:WAVE_BATCH])
			}
		case O_PULSE:
			var pdata = output.data.(*pulse_data)
			if !pdata.continuous && channel.get_axcindicate() == NO_SIGNAL {
				continue
			}
			pulse_write_stream(pdata, channel.mode, channel.waveout[:WAVE_BATCH], channel.waveout_r[:WAVE_BATCH])
		}
	}
}

func disable_channel_outputs(channel *channel_t) {
	for k := range channel.outputs {
		var output = channel.outputs[k]
		output.enabled = false
		switch output.otype {
		case O_ICECAST:
			var icecast = output.data.(*icecast_data)
			if icecast.shout == nil {
				continue
			}
			log_warn("closing icecast connection",
				"server", icecast.hostname, "port", icecast.port, "mountpoint", icecast.mountpoint)
			shout_close(icecast)
		case O_FILE, O_RAWFILE:
			close_file(channel, output.data.(*file_data))
		case O_MIXER:
			var mdata = output.data.(*mixer_data)
			mixer_disable_input(mdata.mixer, mdata.input)
		case O_UDP_STREAM:
			udp_stream_shutdown(output.data.(*udp_stream_data))
		case O_PULSE:
			pulse_shutdown(output.data.(*pulse_data))
		}
	}
}

func disable_device_outputs(dev *device_t) {
	log_info("disabling device outputs")
	for j := range dev.channels {
		disable_channel_outputs(dev.channels[j])
	}
}

func output_thread(output_param *output_params_t) {
	var tag freq_tag
	var new_freq = -1
	var last_stats_write time.Time

	log_debug("starting output thread",
		"device_start", output_param.device_start, "device_end", output_param.device_end,
		"mixer_start", output_param.mixer_start, "mixer_end", output_param.mixer_end)

	for !do_exit.Load() {
		output_param.mp3_signal.wait()
		for i := output_param.mixer_start; i < output_param.mixer_end; i++ {
			if !mixers[i].enabled.Load() {
				continue
			}
			var channel = &mixers[i].channel
			if channel.get_state() == CH_READY {
				process_outputs(channel, -1)
				channel.set_state(CH_DIRTY)
			}
		}
		for i := output_param.device_start; i < output_param.device_end; i++ {
			var dev = devices[i]
			if dev.input.get_state() == INPUT_RUNNING && dev.waveavail.Load() == 1 {
				if dev.mode == R_SCAN {
					tag_queue_get(dev, &tag)
					if tag.freq >= 0 {
						var matures = tag.tv.Add(time.Duration(shout_metadata_delay) * time.Second)
						if !matures.After(time.Now()) {
							new_freq = tag.freq
							tag_queue_advance(dev)
						}
					}
				}
				for j := range dev.channels {
					var channel = dev.channels[j]
					process_outputs(channel, new_freq)
					copy(channel.waveout[:AGC_EXTRA], channel.waveout[WAVE_BATCH:WAVE_BATCH+AGC_EXTRA])
				}
				dev.waveavail.Store(0)
			}
			// Don't carry the new_freq value over to the next receiver, which
			// might be working in multichannel mode.
			new_freq = -1
		}
		if output_param.device_start == 0 {
			write_stats_file(&last_stats_write)
		}
	}
}

// output_check_thread reconnects sinks as required.
func output_check_thread() {
	for !do_exit.Load() {
		for i := 0; i < 100 && !do_exit.Load(); i++ {
			SLEEP_MS(100)
		}
		if do_exit.Load() {
			return
		}
		for _, dev := range devices {
			for j := range dev.channels {
				for _, output := range dev.channels[j].outputs {
					switch output.otype {
					case O_ICECAST:
						var icecast = output.data.(*icecast_data)
						if dev.input.get_state() == INPUT_FAILED {
							if icecast.shout != nil {
								log_warn("device failed, disconnecting stream",
									"server", icecast.hostname, "port", icecast.port, "mountpoint", icecast.mountpoint)
								shout_close(icecast)
							}
						} else if dev.input.get_state() == INPUT_RUNNING {
							if icecast.shout == nil {
								log_info("trying to reconnect",
									"server", icecast.hostname, "port", icecast.port, "mountpoint", icecast.mountpoint)
								shout_setup(icecast, dev.channels[j].mode)
							}
						}
					case O_UDP_STREAM:
						var sdata = output.data.(*udp_stream_data)
						if dev.input.get_state() == INPUT_FAILED {
							udp_stream_shutdown(sdata)
						}
					case O_PULSE:
						var pdata = output.data.(*pulse_data)
						if dev.input.get_state() == INPUT_FAILED {
							if pdata.stream != nil {
								pulse_shutdown(pdata)
							}
						} else if dev.input.get_state() == INPUT_RUNNING {
							if pdata.stream == nil {
								pulse_setup(pdata, dev.channels[j].mode)
							}
						}
					}
				}
			}
		}
		for _, mixer := range mixers {
			if !mixer.enabled.Load() {
				continue
			}
			for _, output := range mixer.channel.outputs {
				if !output.enabled {
					continue
				}
				switch output.otype {
				case O_ICECAST:
					var icecast = output.data.(*icecast_data)
					if icecast.shout == nil {
						log_info("trying to reconnect",
							"server", icecast.hostname, "port", icecast.port, "mountpoint", icecast.mountpoint)
						shout_setup(icecast, mixer.channel.mode)
					}
				case O_PULSE:
					var pdata = output.data.(*pulse_data)
					if pdata.stream == nil {
						pulse_setup(pdata, mixer.channel.mode)
					}
				}
			}
		}
	}
}
