package skywave

/*------------------------------------------------------------------
 *
 * Purpose:	File input driver: replays raw I/Q captures.
 *
 * Description:	Reads are paced to approximate sample_rate multiplied by
 *		a configurable speedup_factor.  End of file moves the
 *		input to FAILED, which is terminal for the device but not
 *		fatal for the process.
 *
 *---------------------------------------------------------------*/

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

type file_input struct {
	filepath       string
	speedup_factor float64
	input_file     *os.File
}

func (d *file_input) typename() string {
	return "file"
}

func (d *file_input) parse_config(input *input_t, cfg *DeviceConfig) error {
	if cfg.Filepath == "" {
		return fmt.Errorf("%w: file input requires 'filepath'", ErrInputConfig)
	}
	d.filepath = cfg.Filepath

	if cfg.SpeedupFactor != 0 {
		if cfg.SpeedupFactor < 0 {
			return fmt.Errorf("%w: 'speedup_factor' must be positive", ErrInputConfig)
		}
		d.speedup_factor = cfg.SpeedupFactor
	} else {
		d.speedup_factor = 4
	}

	if cfg.Format != "" {
		switch cfg.Format {
		case "u8":
			input.sfmt = SFMT_U8
			input.bytes_per_sample = 1
			input.fullscale = 127.5
		case "s8":
			input.sfmt = SFMT_S8
			input.bytes_per_sample = 1
			input.fullscale = 128.0
		case "s16":
			input.sfmt = SFMT_S16
			input.bytes_per_sample = 2
			input.fullscale = 32768.0
		case "f32":
			input.sfmt = SFMT_F32
			input.bytes_per_sample = 4
			input.fullscale = 1.0
		default:
			return fmt.Errorf("%w: unknown sample format %q", ErrInputConfig, cfg.Format)
		}
	}
	if cfg.Fullscale != 0 {
		input.fullscale = float32(cfg.Fullscale)
	}
	return nil
}

func (d *file_input) init(input *input_t) error {
	var f, err = os.Open(d.filepath)
	if err != nil {
		return err
	}
	d.input_file = f
	log_info("file input initialized", "path", d.filepath)
	return nil
}

func (d *file_input) rx(input *input_t) {
	var buf_len = input.buf_size/2 - 1
	var buf = make([]byte, buf_len)

	var time_per_byte = time.Duration(float64(time.Second) /
		(float64(input.sample_rate) * float64(input.bytes_per_sample) * 2 * d.speedup_factor))

	log_debug("file rx starting",
		"sample_rate", input.sample_rate,
		"bytes_per_sample", input.bytes_per_sample,
		"speedup_factor", d.speedup_factor)

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

		if space_left > buf_len {
			var n, err = io.ReadFull(d.input_file, buf)
			if n > 0 {
				circbuffer_append(input, buf[:n])
			}
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
					log_info("file input hit end of file, disabling", "path", d.filepath)
				} else {
					log_error("file input read error, disabling", "path", d.filepath, "error", err)
				}
				input.set_state(INPUT_FAILED)
				return
			}

			var sleep_time = time.Duration(n)*time_per_byte - time.Since(start)
			if sleep_time > 0 {
				time.Sleep(sleep_time)
			}
		} else {
			SLEEP_MS(10)
		}
	}
}

func (d *file_input) set_centerfreq(input *input_t, centerfreq int) error {
	return nil
}

func (d *file_input) stop(input *input_t) error {
	if d.input_file != nil {
		var err = d.input_file.Close()
		d.input_file = nil
		return err
	}
	return nil
}
