package skywave

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestAnynumForms(t *testing.T) {
	var doc struct {
		A anynum `yaml:"a"`
		B anynum `yaml:"b"`
		C anynum `yaml:"c"`
	}
	var err = yaml.Unmarshal([]byte("a: 121500000\nb: 121.5\nc: \"121.5M\"\n"), &doc)
	require.NoError(t, err)

	// integer is Hz, float is MHz, string uses the k/M/G suffix
	assert.Equal(t, anynum(121500000), doc.A)
	assert.Equal(t, anynum(121500000), doc.B)
	assert.Equal(t, anynum(121500000), doc.C)
}

func TestScalarOrListOptions(t *testing.T) {
	var doc struct {
		S float_list  `yaml:"s"`
		L float_list  `yaml:"l"`
		B anynum_list `yaml:"b"`
	}
	var err = yaml.Unmarshal([]byte("s: 9.0\nl: [1.0, 2.0]\nb: 10000\n"), &doc)
	require.NoError(t, err)

	assert.Equal(t, float_list{9.0}, doc.S)
	assert.Equal(t, float_list{1.0, 2.0}, doc.L)
	assert.Equal(t, anynum_list{10000}, doc.B)

	// scalar lists serve every frequency index
	assert.Equal(t, 9.0, doc.S.at(0))
	assert.Equal(t, 9.0, doc.S.at(5))
	assert.Equal(t, 2.0, doc.L.at(1))
}

const test_config_yaml = `
fft_size: 512
localtime: true
shout_metadata_delay: 2
devices:
  - type: file
    filepath: /nonexistent/capture.bin
    sample_rate: 2560000
    mode: multichannel
    centerfreq: 121.5
    channels:
      - freq: 121.6
        modulation: am
        squelch_snr_threshold: 12
        bandwidth: 10000
        outputs:
          - type: udp_stream
            dest_address: 127.0.0.1
            dest_port: 16789
`

func TestReadConfigAndBuildDevices(t *testing.T) {
	reset_globals(t)

	var path = filepath.Join(t.TempDir(), "skywave.conf")
	require.NoError(t, os.WriteFile(path, []byte(test_config_yaml), 0644))

	var cfg, err = read_config(path)
	require.NoError(t, err)
	require.NoError(t, apply_global_config(cfg))

	assert.Equal(t, 512, fft_size)
	assert.True(t, use_localtime)
	assert.Equal(t, 2, shout_metadata_delay)

	require.NoError(t, parse_devices(cfg.Devices))
	require.Len(t, devices, 1)

	var dev = devices[0]
	assert.Equal(t, R_MULTICHANNEL, dev.mode)
	assert.Equal(t, 2560000, dev.input.sample_rate)
	assert.Equal(t, 121500000, dev.input.centerfreq)

	// bin = ceil((121.6M + 2.56M - 121.5M) / 5000 - 1) mod 512
	require.Len(t, dev.bins, 1)
	assert.Equal(t, 19, dev.bins[0])
	assert.Equal(t, dev.base_bins[0], dev.bins[0])

	var channel = dev.channels[0]
	assert.True(t, channel.needs_raw_iq) // bandwidth configured
	// (121.6M - 121.5M) / WAVE_RATE = 6.25 cycles per output sample;
	// 2560000/16000 = 160 exactly so no rounding correction applies.
	// The fractional part 0.25 maps to 0x400000 in 24-bit phase units.
	assert.Equal(t, uint32(0x400000), channel.dm_dphi)
	assert.True(t, channel.freqlist[0].lowpass_filter.is_enabled())
	assert.Equal(t, MOD_AM, channel.freqlist[0].modulation)

	// the ring buffer is an exact multiple of one FFT batch of input bytes
	// and carries the windowing tail
	var bps = 2 * dev.input.bytes_per_sample * 160
	assert.Equal(t, 0, dev.input.buf_size%(FFT_BATCH*bps))
	assert.Equal(t, dev.input.buf_size+2*dev.input.bytes_per_sample*fft_size, len(dev.input.buffer))
}

func TestScanModeConfig(t *testing.T) {
	reset_globals(t)
	fft_size = 512

	var cfg = &Config{
		Devices: []DeviceConfig{{
			Type:       "file",
			Filepath:   "/nonexistent/capture.bin",
			SampleRate: 2560000,
			Mode:       "scan",
			Channels: []ChannelConfig{{
				Freqs:  []anynum{118900000, 119100000, 121500000},
				Labels: []string{"TWR", "GND", "GUARD"},
				Outputs: []OutputConfig{{
					Type: "udp_stream", DestAddress: "127.0.0.1", DestPort: 16789,
				}},
			}},
		}},
	}
	require.NoError(t, parse_devices(cfg.Devices))

	var dev = devices[0]
	assert.Equal(t, R_SCAN, dev.mode)
	// the device tunes 20 bins above the first list entry to dodge the DC spike
	assert.Equal(t, 118900000+20*(2560000/512), dev.input.centerfreq)
	require.Len(t, dev.channels[0].freqlist, 3)
	assert.Equal(t, "GND", dev.channels[0].freqlist[1].label)
}

func TestConfigErrors(t *testing.T) {
	reset_globals(t)

	var cases = []struct {
		name string
		cfg  Config
	}{
		{"no devices", Config{}},
		{"bad fft size", Config{FFTSize: 500, Devices: []DeviceConfig{{}}}},
		{"bad metadata delay", Config{ShoutMetadataDelay: intptr(99), Devices: []DeviceConfig{{}}}},
	}
	for _, c := range cases {
		assert.Error(t, apply_global_config(&c.cfg), c.name)
	}
}

func intptr(v int) *int { return &v }

func TestChannelConfigErrors(t *testing.T) {
	reset_globals(t)
	fft_size = 512

	var base = func(ch ChannelConfig) []DeviceConfig {
		return []DeviceConfig{{
			Type:       "file",
			Filepath:   "/nonexistent/capture.bin",
			SampleRate: 2560000,
			Mode:       "multichannel",
			Centerfreq: 121500000,
			Channels:   []ChannelConfig{ch},
		}}
	}
	var out = []OutputConfig{{Type: "udp_stream", DestAddress: "127.0.0.1", DestPort: 16789}}

	// positive manual squelch threshold is invalid
	devices = nil
	assert.Error(t, parse_devices(base(ChannelConfig{
		Freq: 121600000, SquelchThreshold: float_list{10}, Outputs: out,
	})))

	// negative SNR threshold is invalid
	devices = nil
	assert.Error(t, parse_devices(base(ChannelConfig{
		Freq: 121600000, SquelchSnrThreshold: float_list{-1}, Outputs: out,
	})))

	// channel without outputs is invalid
	devices = nil
	assert.Error(t, parse_devices(base(ChannelConfig{Freq: 121600000})))

	// unknown output type is invalid
	devices = nil
	assert.Error(t, parse_devices(base(ChannelConfig{
		Freq: 121600000, Outputs: []OutputConfig{{Type: "carrier-pigeon"}},
	})))

	// unknown device type is invalid
	devices = nil
	assert.Error(t, parse_devices([]DeviceConfig{{Type: "warpdrive"}}))
}

func TestMixerConfig(t *testing.T) {
	reset_globals(t)
	fft_size = 512

	var mixcfg = map[string]*MixerConfig{
		"mx": {Outputs: []OutputConfig{{Type: "udp_stream", DestAddress: "127.0.0.1", DestPort: 16790}}},
	}
	require.NoError(t, parse_mixers(mixcfg))
	require.Len(t, mixers, 1)

	var cfg = []DeviceConfig{{
		Type:       "file",
		Filepath:   "/nonexistent/capture.bin",
		SampleRate: 2560000,
		Mode:       "multichannel",
		Centerfreq: 121500000,
		Channels: []ChannelConfig{{
			Freq: 121600000,
			Outputs: []OutputConfig{{
				Type: "mixer", Name: "mx", Balance: 0.3,
			}},
		}},
	}}
	require.NoError(t, parse_devices(cfg))

	var mixer = mixers[0]
	assert.True(t, mixer.enabled.Load())
	require.Len(t, mixer.inputs, 1)
	// nonzero balance switches the mixer channel to stereo and weights the
	// left/right gains
	assert.Equal(t, MM_STEREO, mixer.channel.mode)
	assert.InDelta(t, 0.7, mixer.inputs[0].ampl, 1e-6)
	assert.InDelta(t, 1.0, mixer.inputs[0].ampr, 1e-6)

	// unknown mixer names are rejected
	devices = nil
	cfg[0].Channels[0].Outputs[0].Name = "nope"
	assert.Error(t, parse_devices(cfg))
}
