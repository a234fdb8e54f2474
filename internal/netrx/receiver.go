// Package netrx is the optional, read-only Art-Net listener (T-net-rx): it
// decodes inbound OpDmx datagrams purely for observability and never feeds
// anything back into the scheduler or DMX buffer.
package netrx

import (
	"fmt"
	"net"
	"sync/atomic"
	"syscall"

	"github.com/veilstage/pulsegrid/pkg/artnet"
)

// Frame is one decoded inbound datagram handed to a Handler.
type Frame struct {
	Universe byte
	Data     []byte
}

// Handler receives every successfully decoded inbound frame. It must not
// block — Receiver invokes it synchronously from the read loop.
type Handler func(Frame)

// Receiver listens on port (default artnet.DefaultPort) and decodes every
// datagram via artnet.DecodeDMXPacket, discarding anything that doesn't
// parse as a valid OpDmx packet.
type Receiver struct {
	conn    *net.UDPConn
	handler Handler

	stopCh  chan struct{}
	doneCh  chan struct{}
	running int32
}

// New constructs a Receiver bound to port. port <= 0 falls back to
// artnet.DefaultPort.
func New(port int, handler Handler) (*Receiver, error) {
	if port <= 0 {
		port = artnet.DefaultPort
	}
	addr := &net.UDPAddr{Port: port}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("netrx: listen on port %d: %w", port, err)
	}
	if err := enableReuse(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("netrx: set socket options: %w", err)
	}
	return &Receiver{conn: conn, handler: handler}, nil
}

// Start launches the read loop in a goroutine. Idempotent.
func (r *Receiver) Start() {
	if !atomic.CompareAndSwapInt32(&r.running, 0, 1) {
		return
	}
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})

	go func() {
		defer close(r.doneCh)
		buf := make([]byte, artnet.PacketSize+64)
		for {
			select {
			case <-r.stopCh:
				return
			default:
			}
			n, _, err := r.conn.ReadFromUDP(buf)
			if err != nil {
				select {
				case <-r.stopCh:
					return
				default:
					continue
				}
			}
			universe, data, ok := artnet.DecodeDMXPacket(buf[:n])
			if !ok || r.handler == nil {
				continue
			}
			r.handler(Frame{Universe: universe, Data: data})
		}
	}()
}

// Stop closes the socket (unblocking the read loop) and waits for the
// goroutine to exit.
func (r *Receiver) Stop() {
	if !atomic.CompareAndSwapInt32(&r.running, 1, 0) {
		return
	}
	close(r.stopCh)
	_ = r.conn.Close()
	<-r.doneCh
}

// enableReuse sets SO_REUSEADDR so the listener can rebind quickly across
// restarts. It goes through SyscallConn rather than File so the socket stays
// in non-blocking mode and Close still unblocks a pending read.
func enableReuse(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	if err := raw.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
	}); err != nil {
		return err
	}
	return sockErr
}
