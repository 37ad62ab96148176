package skywave

/*------------------------------------------------------------------
 *
 * Purpose:	Icecast streaming sink.
 *
 * Description:	Speaks the icecast source protocol directly: an HTTP
 *		SOURCE request with Basic auth and audio/mpeg content,
 *		followed by a raw MP3 byte stream.  Writes go through an
 *		outbound queue drained by a writer goroutine so that the
 *		output thread never blocks on the network; when the queue
 *		backlog exceeds MAX_SHOUT_QUEUELEN the connection is torn
 *		down and the reconnect watcher will retry.
 *
 *		Metadata updates use the admin/metadata endpoint, the
 *		same way libshout's shout_set_metadata does.
 *
 *---------------------------------------------------------------*/

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

type icecast_data struct {
	hostname            string
	port                int
	username            string
	password            string
	mountpoint          string
	name                string
	genre               string
	description         string
	send_scan_freq_tags bool
	shout               *shout_conn
}

type shout_conn struct {
	conn net.Conn

	mu     sync.Mutex
	queue  [][]byte
	queued int
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

const SHOUT_CONNECT_TIMEOUT_SEC = 30

// shout_setup opens the source connection.  On failure the icecast shout
// handle stays nil and the reconnect watcher retries later.
func shout_setup(icecast *icecast_data, mixmode mix_modes) {
	var addr = net.JoinHostPort(icecast.hostname, fmt.Sprintf("%d", icecast.port))
	log_info("connecting to icecast", "server", addr, "mountpoint", icecast.mountpoint)

	var conn, err = net.DialTimeout("tcp", addr, SHOUT_CONNECT_TIMEOUT_SEC*time.Second)
	if err != nil {
		log_warn("could not connect to icecast", "server", addr, "mountpoint", icecast.mountpoint, "error", err)
		return
	}

	var auth = base64.StdEncoding.EncodeToString([]byte(icecast.username + ":" + icecast.password))
	var req strings.Builder
	fmt.Fprintf(&req, "SOURCE /%s HTTP/1.0\r\n", icecast.mountpoint)
	fmt.Fprintf(&req, "Authorization: Basic %s\r\n", auth)
	fmt.Fprintf(&req, "User-Agent: skywave/%s\r\n", SKYWAVE_VERSION)
	fmt.Fprintf(&req, "Content-Type: audio/mpeg\r\n")
	if icecast.name != "" {
		fmt.Fprintf(&req, "ice-name: %s\r\n", icecast.name)
	}
	if icecast.genre != "" {
		fmt.Fprintf(&req, "ice-genre: %s\r\n", icecast.genre)
	}
	if icecast.description != "" {
		fmt.Fprintf(&req, "ice-description: %s\r\n", icecast.description)
	}
	var channels = 1
	if mixmode == MM_STEREO {
		channels = 2
	}
	fmt.Fprintf(&req, "ice-audio-info: samplerate=%d;channels=%d\r\n", MP3_RATE, channels)
	fmt.Fprintf(&req, "\r\n")

	conn.SetDeadline(time.Now().Add(SHOUT_CONNECT_TIMEOUT_SEC * time.Second))
	if _, err = conn.Write([]byte(req.String())); err != nil {
		log_warn("icecast handshake write failed", "server", addr, "error", err)
		conn.Close()
		return
	}

	var status, rerr = bufio.NewReader(conn).ReadString('\n')
	if rerr != nil {
		log_warn("icecast handshake read failed", "server", addr, "error", rerr)
		conn.Close()
		return
	}
	if !strings.Contains(status, "200") {
		log_warn("icecast refused source connection", "server", addr,
			"mountpoint", icecast.mountpoint, "status", strings.TrimSpace(status))
		conn.Close()
		return
	}
	conn.SetDeadline(time.Time{})

	var sc = &shout_conn{
		conn: conn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go sc.writer()

	log_info("connected to icecast", "server", addr, "mountpoint", icecast.mountpoint)
	icecast.shout = sc
}

// queuelen returns the current outbound backlog in bytes.
func (sc *shout_conn) queuelen() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.queued
}

// send enqueues one MP3 chunk.  It never blocks on the network.
func (sc *shout_conn) send(data []byte) error {
	sc.mu.Lock()
	if sc.closed {
		sc.mu.Unlock()
		return fmt.Errorf("icecast connection is down")
	}
	var chunk = make([]byte, len(data))
	copy(chunk, data)
	sc.queue = append(sc.queue, chunk)
	sc.queued += len(chunk)
	sc.mu.Unlock()

	select {
	case sc.wake <- struct{}{}:
	default:
	}
	return nil
}

func (sc *shout_conn) writer() {
	for {
		select {
		case <-sc.done:
			return
		case <-sc.wake:
		}
		for {
			sc.mu.Lock()
			if len(sc.queue) == 0 {
				sc.mu.Unlock()
				break
			}
			var chunk = sc.queue[0]
			sc.queue = sc.queue[1:]
			sc.queued -= len(chunk)
			sc.mu.Unlock()

			sc.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if _, err := sc.conn.Write(chunk); err != nil {
				sc.mu.Lock()
				sc.closed = true
				sc.mu.Unlock()
				return
			}
		}
	}
}

func (sc *shout_conn) is_dead() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.closed
}

func (sc *shout_conn) close() {
	select {
	case <-sc.done:
	default:
		close(sc.done)
	}
	sc.conn.Close()
}

func shout_close(icecast *icecast_data) {
	if icecast.shout != nil {
		icecast.shout.close()
		icecast.shout = nil
	}
}

// shout_set_metadata updates the stream "song" title via the admin
// endpoint, using the source credentials.
func shout_set_metadata(icecast *icecast_data, song string) error {
	var u = url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(icecast.hostname, fmt.Sprintf("%d", icecast.port)),
		Path:   "/admin/metadata",
		RawQuery: url.Values{
			"mode":  {"updinfo"},
			"mount": {"/" + icecast.mountpoint},
			"song":  {song},
		}.Encode(),
	}

	var req, err = http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(icecast.username, icecast.password)

	var client = http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("metadata update rejected: %s", resp.Status)
	}
	return nil
}
