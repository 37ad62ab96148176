package skywave

/*------------------------------------------------------------------
 *
 * Purpose:	MP3 encoding of channel audio.
 *
 * Description:	The C original used LAME.  Here each channel that needs
 *		MP3 output owns a shine encoder running at WAVE_RATE,
 *		mono or 2-channel for stereo mixers.  Encoded bytes are
 *		collected per WAVE_BATCH; shine emits whole MP3 frames,
 *		buffering any partial frame until the next batch.
 *
 *---------------------------------------------------------------*/

import (
	"bytes"
	"math"

	shine "github.com/braheezy/shine-mp3/pkg/mp3"
)

type mp3_encoder struct {
	enc  *shine.Encoder
	mode mix_modes
	buf  bytes.Buffer
	pcm  []int16
}

// airlame_init creates a channel encoder.  highpass/lowpass were LAME-side
// band limits; shine has no psychoacoustic filter stage, so they are
// accepted for config compatibility and otherwise unused.
func airlame_init(mixmode mix_modes, highpass int, lowpass int) *mp3_encoder {
	var channels = 1
	if mixmode == MM_STEREO {
		channels = 2
	}
	log_debug("mp3 encoder init", "stereo", mixmode == MM_STEREO, "highpass", highpass, "lowpass", lowpass)
	return &mp3_encoder{
		enc:  shine.NewEncoder(MP3_RATE, channels),
		mode: mixmode,
		pcm:  make([]int16, 0, 2*WAVE_BATCH),
	}
}

func sample_to_s16(v float32) int16 {
	if v != v { // NaN
		return 0
	}
	if v > 1.0 {
		v = 1.0
	} else if v < -1.0 {
		v = -1.0
	}
	return int16(v * math.MaxInt16)
}

// encode runs one batch of float samples through the encoder and returns
// the MP3 bytes produced (possibly empty while the encoder accumulates a
// frame).  right is ignored for mono encoders.
func (e *mp3_encoder) encode(left, right []float32) ([]byte, error) {
	e.buf.Reset()
	e.pcm = e.pcm[:0]

	if e.mode == MM_STEREO {
		for i := range left {
			e.pcm = append(e.pcm, sample_to_s16(left[i]), sample_to_s16(right[i]))
		}
	} else {
		for i := range left {
			e.pcm = append(e.pcm, sample_to_s16(left[i]))
		}
	}

	if err := e.enc.Write(&e.buf, e.pcm); err != nil {
		return nil, err
	}
	return e.buf.Bytes(), nil
}

/*
 * LameTone: discontinuity marker tones written when appending to an
 * existing audio file, and one-second blocks of silence (msec=1000, hz=0)
 * for continuous-mode gap filling.  hz == 0 produces silence.
 */
func lame_tone(mixmode mix_modes, msec int, hz int) []byte {
	var samples = msec * WAVE_RATE / 1000
	var buf = make([]float32, samples)

	if hz > 0 {
		var period = 1.0 / float64(hz)
		var sample_time = 1.0 / float64(WAVE_RATE)
		var t = 0.0
		for i := 0; i < samples; i++ {
			buf[i] = float32(0.9 * math.Sin(t*2.0*math.Pi/period))
			t += sample_time
		}
	}

	var lame = airlame_init(mixmode, 0, 0)
	var data, err = lame.encode(buf, buf)
	if err != nil {
		log_warn("lame_tone encode failed", "error", err)
		return nil
	}
	var out = make([]byte, len(data))
	copy(out, data)
	return out
}
