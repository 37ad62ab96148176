package skywave

/*------------------------------------------------------------------
 *
 * Purpose:	Local audio sink.
 *
 * Description:	The C original streamed to a PulseAudio daemon.  This
 *		port plays through portaudio's blocking write API, which
 *		reaches PulseAudio (or ALSA, or CoreAudio) through the
 *		default host device.  The config keyword stays "pulse".
 *
 *---------------------------------------------------------------*/

import (
	"sync"

	"github.com/gordonklaus/portaudio"
)

type pulse_data struct {
	stream_name string
	sink        string
	mode        mix_modes
	continuous  bool

	stream *portaudio.Stream
	buf    []float32
}

var pulse_init_once sync.Once
var pulse_init_err error

func pulse_init() {
	pulse_init_once.Do(func() {
		pulse_init_err = portaudio.Initialize()
		if pulse_init_err != nil {
			log_error("portaudio initialization failed", "error", pulse_init_err)
		}
	})
}

func pulse_setup(pdata *pulse_data, mixmode mix_modes) error {
	if pulse_init_err != nil {
		return pulse_init_err
	}

	var channels = 1
	if mixmode == MM_STEREO {
		channels = 2
	}
	pdata.mode = mixmode
	pdata.buf = make([]float32, channels*WAVE_BATCH)

	var stream, err = portaudio.OpenDefaultStream(0, channels, float64(WAVE_RATE), WAVE_BATCH, &pdata.buf)
	if err != nil {
		log_error("cannot open audio stream", "stream", pdata.stream_name, "error", err)
		return err
	}
	if err = stream.Start(); err != nil {
		log_error("cannot start audio stream", "stream", pdata.stream_name, "error", err)
		stream.Close()
		return err
	}
	pdata.stream = stream
	log_info("audio stream started", "stream", pdata.stream_name, "channels", channels)
	return nil
}

func pulse_write_stream(pdata *pulse_data, mode mix_modes, data_left, data_right []float32) {
	if pdata.stream == nil {
		return
	}
	if mode == MM_STEREO {
		for i := range data_left {
			pdata.buf[2*i] = data_left[i]
			pdata.buf[2*i+1] = data_right[i]
		}
	} else {
		copy(pdata.buf, data_left)
	}
	if err := pdata.stream.Write(); err != nil {
		log_debug("audio stream write failed", "stream", pdata.stream_name, "error", err)
	}
}

func pulse_shutdown(pdata *pulse_data) {
	if pdata.stream != nil {
		pdata.stream.Stop()
		pdata.stream.Close()
		pdata.stream = nil
	}
}
