package artnet

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
)

// LoopbackAddr is always dialed in addition to the configured target so local
// observers (the monitor UI, T-net-rx) see every frame without needing to be
// on the same broadcast segment as the fixtures.
const LoopbackAddr = "127.0.0.1"

// Sender owns the UDP socket(s) used to transmit Art-Net DMX frames. It is
// safe for concurrent use; Send is expected to be called from a single
// refresh-loop goroutine but the sequence counter is atomic regardless.
type Sender struct {
	mu       sync.Mutex
	conn     *net.UDPConn
	loopback *net.UDPConn
	sequence uint32

	onError func(error)
}

// NewSender dials a UDP socket to targetIP:6454 with broadcast and
// address-reuse enabled, plus a second socket dialed to 127.0.0.1:6454 for
// the mandatory loopback duplication described in the wire protocol.
func NewSender(targetIP string) (*Sender, error) {
	conn, err := dialWithBroadcast(targetIP)
	if err != nil {
		return nil, fmt.Errorf("artnet: dial %s: %w", targetIP, err)
	}
	loop, err := dialWithBroadcast(LoopbackAddr)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("artnet: dial loopback: %w", err)
	}
	return &Sender{conn: conn, loopback: loop}, nil
}

// SetErrorHandler installs a callback invoked on every send failure. A send
// failure is logged via this callback but is never fatal: the caller should
// simply retry on the next refresh tick with the current buffer.
func (s *Sender) SetErrorHandler(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = fn
}

// Send encodes universe's 512-byte data as an Art-Net OpDmx packet and
// transmits it to both the configured target and the loopback address.
// Failures on either socket are reported via the error handler, never
// returned, matching the "transient I/O error" taxonomy: the caller always
// gets to proceed to the next tick.
func (s *Sender) Send(universe byte, data []byte) {
	seq := byte(atomic.AddUint32(&s.sequence, 1))
	packet := BuildDMXPacket(universe, data, seq)

	s.mu.Lock()
	conn, loop, onError := s.conn, s.loopback, s.onError
	s.mu.Unlock()

	if _, err := conn.Write(packet); err != nil {
		reportSendError(onError, fmt.Errorf("artnet: send: %w", err))
	}
	if _, err := loop.Write(packet); err != nil {
		reportSendError(onError, fmt.Errorf("artnet: send loopback: %w", err))
	}
}

func reportSendError(onError func(error), err error) {
	if onError != nil {
		onError(err)
	}
}

// Close releases both underlying sockets.
func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err1 := s.conn.Close()
	err2 := s.loopback.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

func dialWithBroadcast(ip string) (*net.UDPConn, error) {
	addr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", ip, DefaultPort))
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		return nil, err
	}
	if err := enableBroadcastAndReuse(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// enableBroadcastAndReuse sets SO_BROADCAST and SO_REUSEADDR on the
// connection's underlying file descriptor, so the same local port can be
// rebound quickly across restarts and datagrams may target a subnet
// broadcast address.
func enableBroadcastAndReuse(conn *net.UDPConn) error {
	file, err := conn.File()
	if err != nil {
		return err
	}
	defer file.Close()

	fd := int(file.Fd())
	if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1); err != nil {
		return err
	}
	return syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
}
