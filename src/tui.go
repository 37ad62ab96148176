package skywave

/*------------------------------------------------------------------
 *
 * Purpose:	Foreground-mode textual UI.
 *
 * Description:	Draws a per-device grid of channel frequencies with live
 *		signal/noise dBFS readouts using plain ANSI cursor
 *		addressing, the same layout as the classic airband
 *		waterfall header.  Purely observational; nothing in the
 *		DSP path depends on it.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"os"
)

func gotoxy(x, y int) {
	fmt.Printf("%c[%d;%df", 0x1B, y, x)
}

func tui_draw_frame() {
	fmt.Print("\x1b[1;1H\x1b[2J")

	gotoxy(0, 0)
	fmt.Printf("%80s", "")
	for i, dev := range devices {
		gotoxy(0, i*17+1)
		for _, channel := range dev.channels {
			fmt.Printf(" %7.3f  ", float64(channel.freqlist[channel.freq_idx].frequency)/1e6)
		}
		if i != len(devices)-1 {
			gotoxy(0, i*17+16)
			fmt.Print("-------------------------------------------------------------------------------")
		}
	}
}

func tui_update_channel(device_num int, dev *device_t, i int, channel *channel_t, fparms *freq_t) {
	var symbol = byte(channel.get_axcindicate())
	if fparms.squelch.signal_outside_filter() {
		symbol = '~'
	}
	if dev.mode == R_SCAN {
		gotoxy(0, device_num*17+dev.row+3)
		fmt.Printf("%4.0f/%3.0f%c %7.3f ",
			level_to_dBFS(fparms.squelch.signal_level()),
			level_to_dBFS(fparms.squelch.noise_level()),
			symbol,
			float64(dev.channels[0].freqlist[channel.freq_idx].frequency)/1e6)
	} else {
		gotoxy(i*10, device_num*17+dev.row+3)
		fmt.Printf("%4.0f/%3.0f%c ",
			level_to_dBFS(fparms.squelch.signal_level()),
			level_to_dBFS(fparms.squelch.noise_level()),
			symbol)
	}
	os.Stdout.Sync()
}
