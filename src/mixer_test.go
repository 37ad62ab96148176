package skywave

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func make_test_mixer(t *testing.T) *mixer_t {
	t.Helper()
	var mixer = &mixer_t{name: "test", interval: MIX_DIVISOR}
	init_channel_buffers(&mixer.channel)
	var freqlist, err = mk_freqlist(1)
	require.NoError(t, err)
	mixer.channel.freqlist = freqlist
	mixer.channel.set_state(CH_DIRTY)
	mixer.channel.set_axcindicate(NO_SIGNAL)
	return mixer
}

func TestMixerConnectAndDisableInputs(t *testing.T) {
	reset_globals(t)
	var mixer = make_test_mixer(t)

	var i0 = mixer_connect_input(mixer, 1.0, 0.0)
	var i1 = mixer_connect_input(mixer, 0.5, 0.0)
	require.Equal(t, 0, i0)
	require.Equal(t, 1, i1)
	assert.True(t, mixer.enabled.Load())
	assert.Equal(t, MM_MONO, mixer.channel.mode)

	// disabling one input keeps the mixer alive
	mixer_disable_input(mixer, 0)
	assert.True(t, mixer.enabled.Load())

	// disabling the last input kills the whole mixer
	mixer_disable_input(mixer, 1)
	assert.False(t, mixer.enabled.Load())
}

func TestMixerInputOverrun(t *testing.T) {
	reset_globals(t)
	var mixer = make_test_mixer(t)
	var idx = mixer_connect_input(mixer, 1.0, 0.0)

	var samples = make([]float32, WAVE_BATCH)
	mixer_put_samples(mixer, idx, samples, true, WAVE_BATCH)
	assert.Equal(t, uint64(0), mixer.inputs[idx].input_overrun_count.Load())

	// a second delivery before the mixer drains the first is an overrun
	mixer_put_samples(mixer, idx, samples, true, WAVE_BATCH)
	assert.Equal(t, uint64(1), mixer.inputs[idx].input_overrun_count.Load())
}

func TestMixerMonoSum(t *testing.T) {
	reset_globals(t)
	var mixer = make_test_mixer(t)
	var i0 = mixer_connect_input(mixer, 1.0, 0.0)
	var i1 = mixer_connect_input(mixer, 1.0, 0.0)

	mixers = []*mixer_t{mixer}
	mixer_count = 1

	var signal = NewSignal()
	var done = make(chan struct{})
	go func() {
		mixer_thread(signal)
		close(done)
	}()

	// identical sine into both inputs
	var in = make([]float32, WAVE_BATCH)
	for i := range in {
		in[i] = 0.25 * float32(math.Sin(2*math.Pi*float64(i)/100.0))
	}
	mixer_put_samples(mixer, i0, in, true, WAVE_BATCH)
	mixer_put_samples(mixer, i1, in, true, WAVE_BATCH)

	var deadline = time.Now().Add(3 * time.Second)
	for mixer.channel.get_state() != CH_READY && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, CH_READY, mixer.channel.get_state())

	// output equals in[k] + in[k] and the mixer reports a signal
	for k := 0; k < WAVE_BATCH; k++ {
		assert.InDelta(t, 2*in[k], mixer.channel.waveout[k], 1e-6)
	}
	assert.Equal(t, SIGNAL, mixer.channel.get_axcindicate())

	// inputs were drained
	mixer.inputs[i0].mutex.Lock()
	assert.False(t, mixer.inputs[i0].ready)
	mixer.inputs[i0].mutex.Unlock()

	do_exit.Store(true)
	<-done
}

func TestMixerSilentRoundHasNoSignal(t *testing.T) {
	reset_globals(t)
	var mixer = make_test_mixer(t)
	var i0 = mixer_connect_input(mixer, 1.0, 0.0)

	mixers = []*mixer_t{mixer}
	mixer_count = 1

	var signal = NewSignal()
	var done = make(chan struct{})
	go func() {
		mixer_thread(signal)
		close(done)
	}()

	var in = make([]float32, WAVE_BATCH)
	for i := range in {
		in[i] = 0.5
	}
	// delivered without signal: the input is drained but not summed
	mixer_put_samples(mixer, i0, in, false, WAVE_BATCH)

	var deadline = time.Now().Add(3 * time.Second)
	for mixer.channel.get_state() != CH_READY && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, CH_READY, mixer.channel.get_state())

	assert.Equal(t, NO_SIGNAL, mixer.channel.get_axcindicate())
	for k := 0; k < WAVE_BATCH; k++ {
		require.Equal(t, float32(0), mixer.channel.waveout[k])
	}

	do_exit.Store(true)
	<-done
}
