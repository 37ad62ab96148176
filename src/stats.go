package skywave

/*------------------------------------------------------------------
 *
 * Purpose:	Periodic counters/gauges snapshot in Prometheus text
 *		exposition format 0.0.4.
 *
 * Description:	Written every 15 seconds by the first output thread and
 *		once more at shutdown.  The snapshot goes to a temp file
 *		that is renamed into place so scrapers never see a
 *		partial write.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"io"
	"os"
	"time"
)

const STATS_FILE_TIMING_SEC = 15.0

func print_channel_metric(w io.Writer, name string, freq int, label string) {
	fmt.Fprintf(w, "%s{freq=\"%.3f\"", name, float64(freq)/1e6)
	if label != "" {
		fmt.Fprintf(w, ",label=\"%s\"", label)
	}
	fmt.Fprintf(w, "}")
}

// for_each_channel_metric emits one HELP/TYPE header plus a line per
// (device, channel, frequency).
func for_each_channel_metric(w io.Writer, name, help, mtype string, value func(f *freq_t) string) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, mtype)
	for _, dev := range devices {
		for _, channel := range dev.channels {
			for _, f := range channel.freqlist {
				print_channel_metric(w, name, f.frequency, f.label)
				fmt.Fprintf(w, "\t%s\n", value(f))
			}
		}
	}
	fmt.Fprintf(w, "\n")
}

func output_channel_metrics(w io.Writer) {
	for_each_channel_metric(w, "channel_activity_counter",
		"Loops of output_thread with frequency active.", "counter",
		func(f *freq_t) string { return fmt.Sprintf("%d", f.active_counter.Load()) })

	for_each_channel_metric(w, "channel_noise_level",
		"Raw squelch noise_level.", "gauge",
		func(f *freq_t) string { return fmt.Sprintf("%.3f", f.squelch.noise_level()) })

	for_each_channel_metric(w, "channel_dbfs_noise_level",
		"Squelch noise_level as dBFS.", "gauge",
		func(f *freq_t) string { return fmt.Sprintf("%.3f", level_to_dBFS(f.squelch.noise_level())) })

	for_each_channel_metric(w, "channel_signal_level",
		"Raw squelch signal_level.", "gauge",
		func(f *freq_t) string { return fmt.Sprintf("%.3f", f.squelch.signal_level()) })

	for_each_channel_metric(w, "channel_dbfs_signal_level",
		"Squelch signal_level as dBFS.", "gauge",
		func(f *freq_t) string { return fmt.Sprintf("%.3f", level_to_dBFS(f.squelch.signal_level())) })

	for_each_channel_metric(w, "channel_squelch_counter",
		"Squelch open_count.", "counter",
		func(f *freq_t) string { return fmt.Sprintf("%d", f.squelch.open_count()) })

	for_each_channel_metric(w, "channel_squelch_level",
		"Squelch squelch_level.", "gauge",
		func(f *freq_t) string { return fmt.Sprintf("%.3f", f.squelch.squelch_level()) })

	for_each_channel_metric(w, "channel_dbfs_squelch_level",
		"Squelch squelch_level as dBFS.", "gauge",
		func(f *freq_t) string { return fmt.Sprintf("%.3f", level_to_dBFS(f.squelch.squelch_level())) })

	for_each_channel_metric(w, "channel_flappy_counter",
		"Squelch flappy_count.", "counter",
		func(f *freq_t) string { return fmt.Sprintf("%d", f.squelch.flappy_count()) })

	for_each_channel_metric(w, "channel_ctcss_counter",
		"Count of windows with CTCSS detected.", "counter",
		func(f *freq_t) string { return fmt.Sprintf("%d", f.squelch.ctcss_count()) })

	for_each_channel_metric(w, "channel_no_ctcss_counter",
		"Count of windows without CTCSS detected.", "counter",
		func(f *freq_t) string { return fmt.Sprintf("%d", f.squelch.no_ctcss_count()) })
}

func output_device_buffer_overflows(w io.Writer) {
	fmt.Fprintf(w, "# HELP buffer_overflow_count Number of times a device's buffer has overflowed.\n"+
		"# TYPE buffer_overflow_count counter\n")
	for i, dev := range devices {
		fmt.Fprintf(w, "buffer_overflow_count{device=\"%d\"}\t%d\n", i, dev.input.overflow_count.Load())
	}
	fmt.Fprintf(w, "\n")
}

func output_output_overruns(w io.Writer) {
	fmt.Fprintf(w, "# HELP output_overrun_count Number of times a device or mixer output has overrun.\n"+
		"# TYPE output_overrun_count counter\n")
	for i, dev := range devices {
		fmt.Fprintf(w, "output_overrun_count{device=\"%d\"}\t%d\n", i, dev.output_overrun_count.Load())
	}
	for i, mixer := range mixers {
		fmt.Fprintf(w, "output_overrun_count{mixer=\"%d\"}\t%d\n", i, mixer.output_overrun_count.Load())
	}
	fmt.Fprintf(w, "\n")
}

func output_input_overruns(w io.Writer) {
	if mixer_count == 0 {
		return
	}

	fmt.Fprintf(w, "# HELP input_overrun_count Number of times mixer input has overrun.\n"+
		"# TYPE input_overrun_count counter\n")
	for i, mixer := range mixers {
		for j, input := range mixer.inputs {
			fmt.Fprintf(w, "input_overrun_count{mixer=\"%d\",input=\"%d\"}\t%d\n", i, j, input.input_overrun_count.Load())
		}
	}
	fmt.Fprintf(w, "\n")
}

func write_stats_file(last_stats_write *time.Time) {
	if stats_filepath == "" {
		return
	}

	var current_time = time.Now()
	if !do_exit.Load() && delta_sec(*last_stats_write, current_time) < STATS_FILE_TIMING_SEC {
		return
	}
	*last_stats_write = current_time

	var tmp_path = stats_filepath + ".tmp"
	var file, err = os.Create(tmp_path)
	if err != nil {
		log_warn("cannot open stats file", "path", tmp_path, "error", err)
		return
	}

	output_channel_metrics(file)
	output_device_buffer_overflows(file)
	output_output_overruns(file)
	output_input_overruns(file)

	if err := file.Close(); err != nil {
		log_warn("error closing stats file", "path", tmp_path, "error", err)
		return
	}
	if err := os.Rename(tmp_path, stats_filepath); err != nil {
		log_warn("cannot replace stats file", "path", stats_filepath, "error", err)
	}
}
