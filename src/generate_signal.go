package skywave

/*------------------------------------------------------------------
 *
 * Purpose:	Synthetic signal generation: tones plus gaussian noise.
 *
 * Description:	Used by the DSP tests and by the "testsignal" input
 *		driver.  Amplitudes are normalized to full scale 1.0.
 *
 *---------------------------------------------------------------*/

import (
	"encoding/binary"
	"math"
	"math/rand"
	"os"
)

const TONE_WEAK = 0.05
const TONE_NORMAL = 0.2
const TONE_STRONG = 0.4

const NOISE_WEAK = 0.05
const NOISE_NORMAL = 0.2
const NOISE_STRONG = 0.5

type Tone struct {
	sample_rate  int
	freq         float32
	ampl         float32
	sample_count uint64
}

func tone_create(sample_rate int, freq, ampl float32) Tone {
	return Tone{sample_rate: sample_rate, freq: freq, ampl: ampl}
}

func (t *Tone) get_sample() float32 {
	t.sample_count++
	return t.ampl * float32(math.Sin(2*math.Pi*float64(t.sample_count)*float64(t.freq)/float64(t.sample_rate)))
}

type Noise struct {
	ampl float32
	rng  *rand.Rand
}

func noise_create(ampl float32, seed int64) Noise {
	return Noise{ampl: ampl, rng: rand.New(rand.NewSource(seed))}
}

// centered at 0.0, standard deviation of 0.1 * ampl
func (n *Noise) get_sample() float32 {
	return n.ampl * float32(n.rng.NormFloat64()*0.1)
}

type GenerateSignal struct {
	sample_rate int
	tones       []Tone
	noises      []Noise
}

func generate_signal_create(sample_rate int) *GenerateSignal {
	return &GenerateSignal{sample_rate: sample_rate}
}

func (g *GenerateSignal) add_tone(freq, ampl float32) {
	g.tones = append(g.tones, tone_create(g.sample_rate, freq, ampl))
}

func (g *GenerateSignal) add_noise(ampl float32) {
	g.noises = append(g.noises, noise_create(ampl, int64(len(g.noises))+1))
}

func (g *GenerateSignal) get_sample() float32 {
	var value float32

	for i := range g.tones {
		value += g.tones[i].get_sample()
	}
	for i := range g.noises {
		value += g.noises[i].get_sample()
	}
	return value
}

func (g *GenerateSignal) write_file(filepath string, seconds float32) error {
	var f, err = os.Create(filepath)
	if err != nil {
		return err
	}
	defer f.Close()

	var sample_bytes [4]byte
	for i := 0; i < int(float32(g.sample_rate)*seconds); i++ {
		binary.LittleEndian.PutUint32(sample_bytes[:], math.Float32bits(g.get_sample()))
		if _, err := f.Write(sample_bytes[:]); err != nil {
			return err
		}
	}
	return nil
}
