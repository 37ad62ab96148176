package main

/*------------------------------------------------------------------
 *
 * Purpose:	Main program for "skywave": a multichannel AM/NFM
 *		demodulator, mixer, streamer and recorder for wideband
 *		SDR I/Q streams.
 *
 *---------------------------------------------------------------*/

import (
	skywave "github.com/charlie-foxtrot/skywave/src"
)

func main() {
	skywave.Main()
}
