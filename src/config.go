package skywave

/*------------------------------------------------------------------
 *
 * Purpose:	Configuration parsing and construction of the runtime
 *		device / channel / mixer graph.
 *
 * Description:	The YAML file mirrors the classic airband config shape:
 *		process-level keys, a list of devices each carrying its
 *		channels and outputs, and a map of named mixers.  Numeric
 *		frequencies accept an integer in Hz, a float in MHz, or a
 *		string with a k/M/G suffix.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// anynum is a frequency-ish number: integer = Hz, float = MHz, string with
// an optional k/M/G suffix.
type anynum int

func (a *anynum) UnmarshalYAML(value *yaml.Node) error {
	switch value.Tag {
	case "!!int":
		var i int
		if err := value.Decode(&i); err != nil {
			return err
		}
		*a = anynum(i)
	case "!!float":
		var f float64
		if err := value.Decode(&f); err != nil {
			return err
		}
		*a = anynum(f * 1e6)
	case "!!str":
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		*a = anynum(atofs(s))
	default:
		return fmt.Errorf("line %d: expected a number or frequency string", value.Line)
	}
	return nil
}

// anynum_list accepts either a scalar or a list.
type anynum_list []anynum

func (l *anynum_list) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.SequenceNode {
		var out []anynum
		if err := value.Decode(&out); err != nil {
			return err
		}
		*l = out
		return nil
	}
	var single anynum
	if err := single.UnmarshalYAML(value); err != nil {
		return err
	}
	*l = anynum_list{single}
	return nil
}

// float_list accepts either a scalar or a list.
type float_list []float64

func (l *float_list) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.SequenceNode {
		var out []float64
		if err := value.Decode(&out); err != nil {
			return err
		}
		*l = out
		return nil
	}
	var single float64
	if err := value.Decode(&single); err != nil {
		return err
	}
	*l = float_list{single}
	return nil
}

// at returns element i, or the only element for scalar configs.
func (l float_list) at(i int) float64 {
	if len(l) == 1 {
		return l[0]
	}
	return l[i]
}

type OutputConfig struct {
	Type    string `yaml:"type"`
	Disable bool   `yaml:"disable"`

	// icecast
	Server           string `yaml:"server"`
	Port             int    `yaml:"port"`
	Mountpoint       string `yaml:"mountpoint"`
	Username         string `yaml:"username"`
	Password         string `yaml:"password"`
	Name             string `yaml:"name"`
	Genre            string `yaml:"genre"`
	Description      string `yaml:"description"`
	SendScanFreqTags bool   `yaml:"send_scan_freq_tags"`

	// file / rawfile
	Directory            string `yaml:"directory"`
	Filename             string `yaml:"filename"`
	Continuous           bool   `yaml:"continuous"`
	Append               bool   `yaml:"append"`
	SplitOnTransmission  bool   `yaml:"split_on_transmission"`
	IncludeFreq          bool   `yaml:"include_freq"`
	DatedSubdirectories  bool   `yaml:"dated_subdirectories"`

	// udp_stream
	DestAddress string `yaml:"dest_address"`
	DestPort    int    `yaml:"dest_port"`

	// pulse
	StreamName string `yaml:"stream_name"`
	Sink       string `yaml:"sink"`

	// mixer
	Ampfactor *float64 `yaml:"ampfactor"`
	Balance   float64  `yaml:"balance"`
}

type ChannelConfig struct {
	Disable bool `yaml:"disable"`

	Freq  anynum   `yaml:"freq"`
	Freqs []anynum `yaml:"freqs"`

	Label  string   `yaml:"label"`
	Labels []string `yaml:"labels"`

	Modulation  string   `yaml:"modulation"`
	Modulations []string `yaml:"modulations"`

	Highpass *int `yaml:"highpass"`
	Lowpass  *int `yaml:"lowpass"`

	SquelchThreshold    float_list `yaml:"squelch_threshold"`
	SquelchSnrThreshold float_list `yaml:"squelch_snr_threshold"`

	Notch  float_list `yaml:"notch"`
	NotchQ float_list `yaml:"notch_q"`

	Bandwidth anynum_list `yaml:"bandwidth"`

	Ctcss float_list `yaml:"ctcss"`

	Ampfactor float_list `yaml:"ampfactor"`

	Afc uint8 `yaml:"afc"`
	Tau *int  `yaml:"tau"`

	Outputs []OutputConfig `yaml:"outputs"`
}

type ToneConfig struct {
	Offset anynum  `yaml:"offset"`
	Ampl   float64 `yaml:"ampl"`
}

type DeviceConfig struct {
	Type       string `yaml:"type"`
	Disable    bool   `yaml:"disable"`
	SampleRate anynum `yaml:"sample_rate"`
	Mode       string `yaml:"mode"`
	Centerfreq anynum `yaml:"centerfreq"`
	Tau        *int   `yaml:"tau"`

	// file driver
	Filepath      string  `yaml:"filepath"`
	SpeedupFactor float64 `yaml:"speedup_factor"`
	Format        string  `yaml:"format"`
	Fullscale     float64 `yaml:"fullscale"`

	// testsignal driver
	Tones []ToneConfig `yaml:"tones"`
	Noise float64      `yaml:"noise"`

	Channels []ChannelConfig `yaml:"channels"`
}

type MixerConfig struct {
	Outputs []OutputConfig `yaml:"outputs"`
}

type Config struct {
	Pidfile               string                  `yaml:"pidfile"`
	FFTSize               int                     `yaml:"fft_size"`
	ShoutMetadataDelay    *int                    `yaml:"shout_metadata_delay"`
	Localtime             bool                    `yaml:"localtime"`
	MultipleDemodThreads  bool                    `yaml:"multiple_demod_threads"`
	MultipleOutputThreads bool                    `yaml:"multiple_output_threads"`
	LogScanActivity       bool                    `yaml:"log_scan_activity"`
	StatsFilepath         string                  `yaml:"stats_filepath"`
	Tau                   *int                    `yaml:"tau"`
	Mixers                map[string]*MixerConfig `yaml:"mixers"`
	Devices               []DeviceConfig          `yaml:"devices"`
}

func read_config(path string) (*Config, error) {
	var data, err = os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read configuration file %s: %w", path, err)
	}
	var cfg Config
	var dec = yaml.Unmarshal(data, &cfg)
	if dec != nil {
		return nil, fmt.Errorf("error while parsing configuration file %s: %w", path, dec)
	}
	return &cfg, nil
}

// apply_global_config validates and installs the process-level singletons.
func apply_global_config(cfg *Config) error {
	if cfg.FFTSize != 0 {
		var matched = false
		for i := MIN_FFT_SIZE_LOG; i <= MAX_FFT_SIZE_LOG; i++ {
			if cfg.FFTSize == 1<<i {
				fft_size = cfg.FFTSize
				fft_size_log = i
				matched = true
				break
			}
		}
		if !matched {
			return fmt.Errorf("invalid fft_size value %d (must be a power of two in range %d-%d)",
				cfg.FFTSize, 1<<MIN_FFT_SIZE_LOG, 1<<MAX_FFT_SIZE_LOG)
		}
	}
	if cfg.ShoutMetadataDelay != nil {
		shout_metadata_delay = *cfg.ShoutMetadataDelay
	}
	if shout_metadata_delay < 0 || shout_metadata_delay > 2*TAG_QUEUE_LEN {
		return fmt.Errorf("shout_metadata_delay is out of allowed range (0-%d)", 2*TAG_QUEUE_LEN)
	}
	use_localtime = cfg.Localtime
	multiple_demod_threads = cfg.MultipleDemodThreads
	multiple_output_threads = cfg.MultipleOutputThreads
	log_scan_activity = cfg.LogScanActivity
	stats_filepath = cfg.StatsFilepath
	if cfg.Tau != nil {
		alpha = float32(tau_to_alpha(*cfg.Tau))
	}
	if len(cfg.Devices) < 1 {
		return fmt.Errorf("no devices defined")
	}
	return nil
}

func getmixerbyname(name string) *mixer_t {
	for _, m := range mixers {
		if m.name == name {
			return m
		}
	}
	return nil
}

func init_channel_buffers(channel *channel_t) {
	channel.wavein = make([]float32, WAVE_LEN)
	channel.waveout = make([]float32, WAVE_LEN)
	channel.waveout_r = make([]float32, WAVE_LEN)
	channel.iq_in = make([]float32, 2*WAVE_LEN)
	channel.iq_out = make([]float32, 2*WAVE_LEN)
}

func parse_outputs(outs []OutputConfig, channel *channel_t, parsing_mixers bool, where string) (int, error) {
	var enabled = 0
	for o := range outs {
		var out = &outs[o]
		if out.Disable {
			continue
		}
		var output = &output_t{}
		switch out.Type {
		case "icecast":
			if out.Server == "" || out.Port == 0 || out.Mountpoint == "" || out.Username == "" || out.Password == "" {
				return 0, fmt.Errorf("%s outputs.[%d]: icecast outputs need server, port, mountpoint, username and password", where, o)
			}
			output.otype = O_ICECAST
			output.data = &icecast_data{
				hostname:            out.Server,
				port:                out.Port,
				mountpoint:          out.Mountpoint,
				username:            out.Username,
				password:            out.Password,
				name:                out.Name,
				genre:               out.Genre,
				description:         out.Description,
				send_scan_freq_tags: out.SendScanFreqTags,
			}
			channel.need_mp3 = true
		case "file":
			if out.Directory == "" || out.Filename == "" {
				return 0, fmt.Errorf("%s outputs.[%d]: both directory and filename required for file outputs", where, o)
			}
			if out.Continuous && out.SplitOnTransmission {
				return 0, fmt.Errorf("%s outputs.[%d]: can't have both continuous and split_on_transmission", where, o)
			}
			output.otype = O_FILE
			output.data = &file_data{
				ftype:                O_FILE,
				basedir:              out.Directory,
				basename:             out.Filename,
				suffix:               ".mp3",
				continuous:           out.Continuous,
				append:               out.Append,
				split_on_transmission: out.SplitOnTransmission,
				include_freq:         out.IncludeFreq,
				dated_subdirectories: out.DatedSubdirectories,
			}
			channel.need_mp3 = true
		case "rawfile":
			if parsing_mixers {
				return 0, fmt.Errorf("%s outputs.[%d]: rawfile output is not supported for mixers", where, o)
			}
			if out.Directory == "" || out.Filename == "" {
				return 0, fmt.Errorf("%s outputs.[%d]: both directory and filename required for rawfile outputs", where, o)
			}
			output.otype = O_RAWFILE
			output.data = &file_data{
				ftype:                O_RAWFILE,
				basedir:              out.Directory,
				basename:             out.Filename,
				suffix:               ".cf32",
				continuous:           out.Continuous,
				append:               out.Append,
				split_on_transmission: out.SplitOnTransmission,
				include_freq:         out.IncludeFreq,
				dated_subdirectories: out.DatedSubdirectories,
			}
			channel.needs_raw_iq = true
			channel.has_iq_outputs = true
		case "mixer":
			if parsing_mixers {
				return 0, fmt.Errorf("%s outputs.[%d]: mixer outputs can't feed other mixers", where, o)
			}
			var mixer = getmixerbyname(out.Name)
			if mixer == nil {
				return 0, fmt.Errorf("%s outputs.[%d]: unknown mixer %q", where, o, out.Name)
			}
			var ampfactor = 1.0
			if out.Ampfactor != nil {
				ampfactor = *out.Ampfactor
			}
			if out.Balance < -1.0 || out.Balance > 1.0 {
				return 0, fmt.Errorf("%s outputs.[%d]: balance out of allowed range <-1.0;1.0>", where, o)
			}
			var input_idx = mixer_connect_input(mixer, float32(ampfactor), float32(out.Balance))
			if input_idx < 0 {
				return 0, fmt.Errorf("%s outputs.[%d]: failed to connect mixer input", where, o)
			}
			output.otype = O_MIXER
			output.data = &mixer_data{mixer: mixer, input: input_idx}
		case "udp_stream":
			if out.DestAddress == "" || out.DestPort == 0 {
				return 0, fmt.Errorf("%s outputs.[%d]: udp_stream outputs need dest_address and dest_port", where, o)
			}
			output.otype = O_UDP_STREAM
			output.data = &udp_stream_data{
				dest_address: out.DestAddress,
				dest_port:    out.DestPort,
				continuous:   out.Continuous,
			}
		case "pulse":
			var stream_name = out.StreamName
			if stream_name == "" {
				if parsing_mixers {
					return 0, fmt.Errorf("%s outputs.[%d]: audio outputs of mixers must have stream_name defined", where, o)
				}
				stream_name = fmt.Sprintf("%.3f MHz", float64(channel.freqlist[0].frequency)/1e6)
			}
			output.otype = O_PULSE
			output.data = &pulse_data{
				stream_name: stream_name,
				sink:        out.Sink,
				continuous:  out.Continuous,
			}
		default:
			return 0, fmt.Errorf("%s outputs.[%d]: unknown output type %q", where, o, out.Type)
		}
		output.enabled = true
		channel.outputs = append(channel.outputs, output)
		enabled++
	}
	return enabled, nil
}

func mk_freqlist(n int) ([]*freq_t, error) {
	if n < 1 {
		return nil, fmt.Errorf("mk_freqlist: invalid list length %d", n)
	}
	var fl = make([]*freq_t, n)
	for i := 0; i < n; i++ {
		fl[i] = &freq_t{
			agcavgfast: 0.5,
			ampfactor:  1.0,
			squelch:    squelch_create(),
			modulation: MOD_AM,
		}
	}
	return fl, nil
}

func warn_if_freq_not_in_range(devidx, chanidx, freq, centerfreq, sample_rate int) {
	const soft_bw_threshold = 0.9
	var bw_limit = float64(sample_rate) / 2.0 * soft_bw_threshold
	if math.Abs(float64(freq-centerfreq)) >= bw_limit {
		log_warn("channel frequency is outside of SDR operating bandwidth",
			"device", devidx, "channel", chanidx,
			"freq_mhz", float64(freq)/1e6,
			"min_mhz", (float64(centerfreq)-bw_limit)/1e6,
			"max_mhz", (float64(centerfreq)+bw_limit)/1e6)
	}
}

func parse_modulation(s string) (modulations, error) {
	switch {
	case len(s) >= 3 && s[:3] == "nfm":
		return MOD_NFM, nil
	case len(s) >= 2 && s[:2] == "am":
		return MOD_AM, nil
	}
	return MOD_AM, fmt.Errorf("unknown modulation %q", s)
}

func parse_channels(chans []ChannelConfig, dev *device_t, devcfg *DeviceConfig, i int) error {
	for j := range chans {
		var ch = &chans[j]
		if ch.Disable {
			continue
		}
		var where = fmt.Sprintf("devices.[%d] channels.[%d]", i, j)

		var channel = &channel_t{}
		init_channel_buffers(channel)
		// Prime the first AGC_EXTRA samples so the squelch and AGC don't
		// start from silence.
		for k := 0; k < AGC_EXTRA; k++ {
			channel.wavein[k] = 20
			channel.waveout[k] = 0.5
		}
		channel.set_axcindicate(NO_SIGNAL)
		channel.mode = MM_MONO
		channel.highpass = 100
		channel.lowpass = 2500
		if ch.Highpass != nil {
			channel.highpass = *ch.Highpass
		}
		if ch.Lowpass != nil {
			channel.lowpass = *ch.Lowpass
		}
		channel.afc = ch.Afc

		var channel_modulation = MOD_AM
		if ch.Modulation != "" {
			var m, err = parse_modulation(ch.Modulation)
			if err != nil {
				return fmt.Errorf("%s: %w", where, err)
			}
			channel_modulation = m
		}

		var freq_count = 1
		if len(ch.Freqs) > 0 {
			if dev.mode != R_SCAN {
				return fmt.Errorf("%s: 'freqs' is only allowed in scan mode", where)
			}
			freq_count = len(ch.Freqs)
			if len(ch.Labels) > 0 && len(ch.Labels) < freq_count {
				return fmt.Errorf("%s: labels should be a list with at least %d elements", where, freq_count)
			}
			if len(ch.Modulations) > 0 && len(ch.Modulations) < freq_count {
				return fmt.Errorf("%s: modulations should be a list with at least %d elements", where, freq_count)
			}
		} else if dev.mode == R_SCAN {
			return fmt.Errorf("%s: 'freqs' is required in scan mode", where)
		}

		var freqlist, err = mk_freqlist(freq_count)
		if err != nil {
			return err
		}
		channel.freqlist = freqlist

		if dev.mode == R_MULTICHANNEL {
			if ch.Freq == 0 {
				return fmt.Errorf("%s: no frequency given", where)
			}
			freqlist[0].frequency = int(ch.Freq)
			freqlist[0].label = ch.Label
			freqlist[0].modulation = channel_modulation
			warn_if_freq_not_in_range(i, j, freqlist[0].frequency, dev.input.centerfreq, dev.input.sample_rate)
		} else {
			for f := 0; f < freq_count; f++ {
				freqlist[f].frequency = int(ch.Freqs[f])
				if len(ch.Labels) > 0 {
					freqlist[f].label = ch.Labels[f]
				}
				if len(ch.Modulations) > 0 {
					var m, merr = parse_modulation(ch.Modulations[f])
					if merr != nil {
						return fmt.Errorf("%s modulations.[%d]: %w", where, f, merr)
					}
					freqlist[f].modulation = m
				} else {
					freqlist[f].modulation = channel_modulation
				}
			}
			// Set initial frequency for scanning.
			// We tune 20 FFT bins higher to avoid the DC spike.
			dev.input.centerfreq = freqlist[0].frequency + 20*(dev.input.sample_rate/fft_size)
		}

		if len(ch.SquelchThreshold) > 1 && len(ch.SquelchThreshold) < freq_count {
			return fmt.Errorf("%s: squelch_threshold should be a list with at least %d elements", where, freq_count)
		}
		for f := 0; f < freq_count && len(ch.SquelchThreshold) > 0; f++ {
			// Value is dBFS, zero disables the manual threshold (ie use
			// auto squelch), negative is valid, positive is invalid.
			var threshold_dBFS = ch.SquelchThreshold.at(f)
			if threshold_dBFS > 0 {
				return fmt.Errorf("%s: squelch_threshold must be less than or equal to 0", where)
			} else if threshold_dBFS == 0 {
				freqlist[f].squelch.set_squelch_level_threshold(0)
			} else {
				freqlist[f].squelch.set_squelch_level_threshold(dBFS_to_level(float32(threshold_dBFS)))
			}
		}

		if len(ch.SquelchSnrThreshold) > 1 && len(ch.SquelchSnrThreshold) < freq_count {
			return fmt.Errorf("%s: squelch_snr_threshold should be a list with at least %d elements", where, freq_count)
		}
		for f := 0; f < freq_count && len(ch.SquelchSnrThreshold) > 0; f++ {
			var snr = ch.SquelchSnrThreshold.at(f)
			if snr < 0 {
				return fmt.Errorf("%s: squelch_snr_threshold must be greater than or equal to 0", where)
			}
			freqlist[f].squelch.set_squelch_snr_threshold(float32(snr))
		}

		for _, l := range []struct {
			name string
			n    int
		}{
			{"ampfactor", len(ch.Ampfactor)},
			{"notch", len(ch.Notch)},
			{"notch_q", len(ch.NotchQ)},
			{"bandwidth", len(ch.Bandwidth)},
			{"ctcss", len(ch.Ctcss)},
		} {
			if l.n > 1 && l.n < freq_count {
				return fmt.Errorf("%s: %s should be a scalar or a list with at least %d elements", where, l.name, freq_count)
			}
		}

		for f := 0; f < freq_count && len(ch.Ampfactor) > 0; f++ {
			freqlist[f].ampfactor = float32(ch.Ampfactor.at(f))
		}

		for f := 0; f < freq_count && len(ch.Notch) > 0; f++ {
			var q = 10.0
			if len(ch.NotchQ) > 0 {
				q = ch.NotchQ.at(f)
			}
			if q <= 0 {
				return fmt.Errorf("%s: notch_q must be greater than 0", where)
			}
			var notch = ch.Notch.at(f)
			if notch > 0 {
				freqlist[f].notch_filter = notch_filter_create(float32(notch), WAVE_RATE, float32(q))
			}
		}

		for f := 0; f < freq_count && len(ch.Bandwidth) > 0; f++ {
			channel.needs_raw_iq = true
			var bandwidth int
			if len(ch.Bandwidth) == 1 {
				bandwidth = int(ch.Bandwidth[0])
			} else {
				bandwidth = int(ch.Bandwidth[f])
			}
			if bandwidth < 0 {
				log_warn("invalid bandwidth value, ignoring", "where", where, "bandwidth", bandwidth)
			} else if bandwidth > 0 {
				freqlist[f].lowpass_filter = lowpass_filter_create(float32(bandwidth)/2, WAVE_RATE)
			}
		}

		for f := 0; f < freq_count && len(ch.Ctcss) > 0; f++ {
			var tone = ch.Ctcss.at(f)
			if tone > 0 {
				freqlist[f].squelch.set_ctcss_freq(float32(tone), WAVE_RATE)
			}
		}

		if ch.Tau != nil {
			channel.alpha = float32(tau_to_alpha(*ch.Tau))
		} else {
			channel.alpha = dev.alpha
		}

		if len(ch.Outputs) < 1 {
			return fmt.Errorf("%s: no outputs defined", where)
		}
		var outputs_enabled, oerr = parse_outputs(ch.Outputs, channel, false, where)
		if oerr != nil {
			return oerr
		}
		if outputs_enabled < 1 {
			return fmt.Errorf("%s: no outputs enabled", where)
		}

		var bin = int(math.Ceil(
			float64(freqlist[0].frequency+dev.input.sample_rate-dev.input.centerfreq)/
				(float64(dev.input.sample_rate)/float64(fft_size))-1.0)) % fft_size
		dev.base_bins = append(dev.base_bins, bin)
		dev.bins = append(dev.bins, bin)

		for f := 0; f < freq_count; f++ {
			if freqlist[f].modulation == MOD_NFM {
				channel.needs_raw_iq = true
				break
			}
		}

		if channel.needs_raw_iq {
			// Downmixing is done only for NFM and raw IQ outputs.  It's not
			// critical to have some residual freq offset in AM, as it doesn't
			// affect sound quality significantly.
			var dm_dphi = float64(freqlist[0].frequency - dev.input.centerfreq) // downmix freq in Hz

			// In general, sample_rate is not required to be an integer multiple
			// of WAVE_RATE.  However the FFT window may only slide by an integer
			// number of input samples.  A non-zero rounding error introduces
			// additional phase rotation which we have to compensate in order to
			// shift the channel of interest to the center of the spectrum of the
			// output I/Q stream.  This is important for correct NFM
			// demodulation.  The error value (in Hz):
			// - has an absolute value 0..WAVE_RATE/2
			// - is linear with the error introduced by rounding the value of
			//   sample_rate/WAVE_RATE to the nearest integer (range of -0.5..0.5)
			// - is linear with the distance between center frequency and the
			//   channel frequency, normalized to 0..1
			var decimation_factor = float64(dev.input.sample_rate) / float64(WAVE_RATE)
			var dm_dphi_correction = float64(WAVE_RATE) / 2.0
			dm_dphi_correction *= decimation_factor - math.Round(decimation_factor)
			dm_dphi_correction *= float64(freqlist[0].frequency-dev.input.centerfreq) /
				(float64(dev.input.sample_rate) / 2.0)
			dm_dphi -= dm_dphi_correction
			// Normalize
			dm_dphi /= float64(WAVE_RATE)
			// Unalias it, to prevent overflow of int during cast
			dm_dphi -= math.Trunc(dm_dphi)
			// Translate this to uint32 range 0x00000000-0x00ffffff
			dm_dphi *= 256.0 * 65536.0
			// Cast to signed int first, because casting a negative float
			// directly to unsigned is not portable
			channel.dm_dphi = uint32(int32(dm_dphi)) & 0xffffff
			channel.dm_phi = 0
		}

		dev.channels = append(dev.channels, channel)
	}
	if len(dev.channels) < 1 {
		return fmt.Errorf("devices.[%d]: no channels enabled", i)
	}
	return nil
}

func parse_device(devcfg *DeviceConfig, i int) (*device_t, error) {
	var dev = &device_t{}

	var input, err = input_new(devcfg.Type)
	if err != nil {
		return nil, fmt.Errorf("devices.[%d]: %w", i, err)
	}
	dev.input = input

	if devcfg.SampleRate != 0 {
		input.sample_rate = int(devcfg.SampleRate)
	} else {
		input.sample_rate = DEFAULT_SAMPLE_RATE
	}
	if input.sample_rate <= WAVE_RATE {
		return nil, fmt.Errorf("devices.[%d]: sample_rate must be greater than %d", i, WAVE_RATE)
	}

	switch devcfg.Mode {
	case "multichannel", "":
		dev.mode = R_MULTICHANNEL
	case "scan":
		dev.mode = R_SCAN
	default:
		return nil, fmt.Errorf("devices.[%d]: invalid mode %q", i, devcfg.Mode)
	}

	if dev.mode == R_MULTICHANNEL {
		if devcfg.Centerfreq == 0 {
			return nil, fmt.Errorf("devices.[%d]: centerfreq is required in multichannel mode", i)
		}
		input.centerfreq = int(devcfg.Centerfreq)
	}

	if devcfg.Tau != nil {
		dev.alpha = float32(tau_to_alpha(*devcfg.Tau))
	} else {
		dev.alpha = alpha
	}

	if err := input_parse_config(input, devcfg); err != nil {
		return nil, fmt.Errorf("devices.[%d]: %w", i, err)
	}

	// Round the buffer size up to an integer number of FFT batches.  ceil
	// is required because sample rate is not guaranteed to be an integer
	// multiple of WAVE_RATE.
	var fft_batch_len = FFT_BATCH * 2 * input.bytes_per_sample *
		int(math.Ceil(float64(input.sample_rate)/float64(WAVE_RATE)))
	input.buf_size = MIN_BUF_SIZE
	if input.buf_size%fft_batch_len != 0 {
		input.buf_size += fft_batch_len - input.buf_size%fft_batch_len
	}
	input.buffer = make([]byte, input.buf_size+2*input.bytes_per_sample*fft_size)

	if len(devcfg.Channels) < 1 {
		return nil, fmt.Errorf("devices.[%d]: no channels defined", i)
	}
	if dev.mode == R_SCAN && len(devcfg.Channels) > 1 {
		return nil, fmt.Errorf("devices.[%d]: only one channel is allowed in scan mode", i)
	}

	if err := parse_channels(devcfg.Channels, dev, devcfg, i); err != nil {
		return nil, err
	}

	dev.last_frequency = -1
	dev.controller_done = make(chan struct{})
	return dev, nil
}

func parse_devices(devcfgs []DeviceConfig) error {
	for i := range devcfgs {
		if devcfgs[i].Disable {
			continue
		}
		var dev, err = parse_device(&devcfgs[i], i)
		if err != nil {
			return err
		}
		devices = append(devices, dev)
	}
	device_count = len(devices)
	if device_count < 1 {
		return fmt.Errorf("no devices enabled")
	}
	return nil
}

func parse_mixers(mixcfgs map[string]*MixerConfig) error {
	// Construct all mixers first so channel outputs can resolve them by
	// name, then parse their own outputs.
	for name := range mixcfgs {
		var mixer = &mixer_t{name: name, interval: MIX_DIVISOR}
		init_channel_buffers(&mixer.channel)
		mixer.channel.mode = MM_MONO
		mixer.channel.highpass = 100
		mixer.channel.lowpass = 2500
		mixer.channel.set_axcindicate(NO_SIGNAL)
		mixer.channel.set_state(CH_DIRTY)
		mixers = append(mixers, mixer)
	}
	for _, mixer := range mixers {
		var cfg = mixcfgs[mixer.name]
		if len(cfg.Outputs) < 1 {
			return fmt.Errorf("mixers.%s: no outputs defined", mixer.name)
		}
		var where = fmt.Sprintf("mixers.%s", mixer.name)
		var freqlist, _ = mk_freqlist(1)
		mixer.channel.freqlist = freqlist
		var enabled, err = parse_outputs(cfg.Outputs, &mixer.channel, true, where)
		if err != nil {
			return err
		}
		if enabled < 1 {
			return fmt.Errorf("mixers.%s: no outputs enabled", mixer.name)
		}
	}
	mixer_count = len(mixers)
	return nil
}
