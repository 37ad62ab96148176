package skywave

/*------------------------------------------------------------------
 *
 * Purpose:	UDP PCM streaming sink.
 *
 * Description:	Sends raw 32-bit float audio frames as UDP datagrams,
 *		one WAVE_BATCH per datagram, without blocking or checking
 *		for delivery.
 *
 *---------------------------------------------------------------*/

import (
	"encoding/binary"
	"fmt"
	"math"
	"net"
)

type udp_stream_data struct {
	stereo_buffer []float32

	continuous   bool
	dest_address string
	dest_port    int

	conn net.Conn

	send_buffer []byte
}

func udp_stream_init(sdata *udp_stream_data, mode mix_modes, length int) bool {
	// pre-allocate the stereo interleave buffer
	if mode == MM_STEREO {
		sdata.stereo_buffer = make([]float32, 2*length)
	}
	sdata.send_buffer = make([]byte, 4*2*length)

	var addr = net.JoinHostPort(sdata.dest_address, fmt.Sprintf("%d", sdata.dest_port))
	var conn, err = net.Dial("udp", addr)
	if err != nil {
		log_error("udp_stream: could not set up UDP socket", "dest", addr, "error", err)
		return false
	}
	sdata.conn = conn

	var mode_name = "Mono"
	if mode == MM_STEREO {
		mode_name = "Stereo"
	}
	log_info("udp_stream: sending 32-bit float audio", "mode", mode_name, "rate", WAVE_RATE, "dest", addr)
	return true
}

func udp_stream_write(sdata *udp_stream_data, data []float32) {
	if sdata.conn == nil {
		return
	}
	var buf = sdata.send_buffer[:4*len(data)]
	for i, v := range data {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	// Send without blocking or checking for success
	sdata.conn.Write(buf)
}

func udp_stream_write_stereo(sdata *udp_stream_data, data_left, data_right []float32) {
	if sdata.conn == nil {
		return
	}
	for i := range data_left {
		sdata.stereo_buffer[2*i] = data_left[i]
		sdata.stereo_buffer[2*i+1] = data_right[i]
	}
	udp_stream_write(sdata, sdata.stereo_buffer[:2*len(data_left)])
}

func udp_stream_shutdown(sdata *udp_stream_data) {
	if sdata.conn != nil {
		sdata.conn.Close()
		sdata.conn = nil
	}
}
