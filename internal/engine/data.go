package engine

import (
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"time"
)

// dataMode tracks which, if any, data-channel arrangement is currently armed.
type dataMode int

const (
	dataNone dataMode = iota
	dataPassive
	dataActive
)

// ErrDataNotArmed is returned by AcceptOrConnect when neither PASV nor PORT
// has been issued.
var ErrDataNotArmed = errors.New("engine: use PORT or PASV first")

// DataEndpoint owns at most one of {passive listener, active peer address}
// at a time, and the data socket for the lifetime of a single transfer. It
// never outlives one command: TransferEngine borrows it, and every exit path
// -- success or failure -- disposes the socket and clears pending state.
type DataEndpoint struct {
	mode     dataMode
	listener *net.TCPListener
	peerAddr *net.TCPAddr
}

// Armed reports whether a passive listener or an active peer is configured.
func (d *DataEndpoint) Armed() bool {
	return d.mode != dataNone
}

// EnterPassive closes any existing listener or peer, then binds a new TCP
// listener on localIP at a random ephemeral port in [1024, 65535], retrying
// up to 10 times on bind failure. It returns the bound port.
func (d *DataEndpoint) EnterPassive(localIP net.IP) (int, error) {
	d.Clear()

	const minPort, maxPort = 1024, 65535
	for attempt := 0; attempt < 10; attempt++ {
		port := minPort + rand.Intn(maxPort-minPort+1)
		ln, err := net.ListenTCP("tcp", &net.TCPAddr{IP: localIP, Port: port})
		if err != nil {
			continue
		}
		d.listener = ln
		d.mode = dataPassive
		return port, nil
	}
	return 0, errors.New("engine: could not bind a passive listener after 10 attempts")
}

// SetActive closes any existing listener or peer, then parses a PORT-style
// "h1,h2,h3,h4,p1,p2" argument and stores the peer address for a later
// outbound connect. A malformed argument leaves the endpoint cleared and
// returns an error; the caller is expected to map that to a 500 reply.
func (d *DataEndpoint) SetActive(arg string) error {
	d.Clear()

	parts := strings.Split(arg, ",")
	if len(parts) != 6 {
		return fmt.Errorf("engine: PORT argument must have 6 fields, got %d", len(parts))
	}

	nums := make([]int, 6)
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 || n > 255 {
			return fmt.Errorf("engine: invalid PORT field %q", p)
		}
		nums[i] = n
	}

	ip := net.IPv4(byte(nums[0]), byte(nums[1]), byte(nums[2]), byte(nums[3]))
	port := nums[4]<<8 | nums[5]

	d.peerAddr = &net.TCPAddr{IP: ip, Port: port}
	d.mode = dataActive
	return nil
}

// AcceptOrConnect establishes the data socket: it accepts on the passive
// listener, or dials the active peer, whichever is armed. The resulting
// socket gets SO_KEEPALIVE and a long SO_LINGER so the final bytes of a
// transfer are delivered before the control channel reports completion.
func (d *DataEndpoint) AcceptOrConnect() (net.Conn, error) {
	var conn net.Conn
	var err error

	switch d.mode {
	case dataPassive:
		conn, err = d.listener.Accept()
		d.listener.Close()
		d.listener = nil
	case dataActive:
		conn, err = net.DialTimeout("tcp", d.peerAddr.String(), 30*time.Second)
	default:
		return nil, ErrDataNotArmed
	}
	if err != nil {
		return nil, err
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAlive(true)
		_ = tc.SetLinger(32767)
	}
	return conn, nil
}

// Clear drops any pending peer address and closes any open passive listener,
// without touching an already-established data socket (see Dispose).
func (d *DataEndpoint) Clear() {
	if d.listener != nil {
		d.listener.Close()
		d.listener = nil
	}
	d.peerAddr = nil
	d.mode = dataNone
}

// Dispose closes an established data socket. Because of the long linger set
// by AcceptOrConnect, close can block for a long time waiting to flush; if
// the first close fails, linger is zeroed on the same socket and it is
// closed again so the session never stalls forever.
func Dispose(conn net.Conn) error {
	if conn == nil {
		return nil
	}
	err := conn.Close()
	if err == nil {
		return nil
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetLinger(0)
		return tc.Close()
	}
	return err
}
