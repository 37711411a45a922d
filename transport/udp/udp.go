// Package udp implements transport.Carrier over net.UDPConn, the one
// concrete carrier this repository ships. The socket handling uses large
// send/receive buffers, a dedicated receive goroutine bounded by read
// deadlines rather than raw blocking reads, and a bounded inbound queue,
// so a slow owner never stalls the socket reader.
package udp

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nullbound/netcode-core/transport"
)

// socketBufferBytes sizes the OS-level send/receive buffers for
// gaming-traffic bursts under load.
const socketBufferBytes = 4 * 1024 * 1024

// readDeadline bounds each blocking ReadFromUDP call so the receive
// goroutine can observe Close without an explicit cancellation channel.
const readDeadline = 1 * time.Second

// inboundQueueDepth bounds the channel between the receive goroutine and
// Recv callers; a slow owner drops rather than blocking the socket reader.
const inboundQueueDepth = 1024

type inboundPacket struct {
	addr  net.UDPAddr
	bytes []byte
}

// Carrier is a transport.Carrier backed by one net.UDPConn. It is safe for
// one goroutine to call Recv while another calls Send; it owns a single
// background goroutine pumping ReadFromUDP into an internal queue.
type Carrier struct {
	conn   *net.UDPConn
	log    *zap.Logger
	inbox  chan inboundPacket
	closed int32
}

// Listen opens an unconnected UDP socket on addr, suitable for a server
// Hub that must learn the remote address of every datagram it receives.
// A nil logger disables logging, matching endpoint.Config's own
// nil-is-Nop convention.
func Listen(addr net.UDPAddr, log *zap.Logger) (*Carrier, error) {
	conn, err := net.ListenUDP("udp", &addr)
	if err != nil {
		return nil, fmt.Errorf("listen udp %s: %w", addr.String(), err)
	}
	return newCarrier(conn, log), nil
}

// Dial opens a UDP socket connected to addr, suitable for a client
// Endpoint that only ever talks to its current server candidate. Because
// ConnectToken's server list can require retrying a different address,
// callers needing to switch addresses should Close and Dial again rather
// than reusing a connected socket.
func Dial(addr net.UDPAddr, log *zap.Logger) (*Carrier, error) {
	conn, err := net.DialUDP("udp", nil, &addr)
	if err != nil {
		return nil, fmt.Errorf("dial udp %s: %w", addr.String(), err)
	}
	return newCarrier(conn, log), nil
}

func newCarrier(conn *net.UDPConn, log *zap.Logger) *Carrier {
	if log == nil {
		log = zap.NewNop()
	}
	if err := conn.SetReadBuffer(socketBufferBytes); err != nil {
		log.Warn("set read buffer failed", zap.Error(err))
	}
	if err := conn.SetWriteBuffer(socketBufferBytes); err != nil {
		log.Warn("set write buffer failed", zap.Error(err))
	}
	c := &Carrier{
		conn:  conn,
		log:   log,
		inbox: make(chan inboundPacket, inboundQueueDepth),
	}
	go c.receiveLoop()
	return c
}

// receiveLoop is a read-deadline poll loop rather than a raw blocking
// read, so Close can be observed without a separate cancellation
// mechanism.
func (c *Carrier) receiveLoop() {
	buf := make([]byte, transport.MaxPacketSize)
	for {
		if atomic.LoadInt32(&c.closed) == 1 {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		n, remote, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if atomic.LoadInt32(&c.closed) == 1 {
				return
			}
			continue
		}
		if n == 0 {
			continue
		}
		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		select {
		case c.inbox <- inboundPacket{addr: *remote, bytes: pkt}:
		default:
			c.log.Warn("inbound queue full, dropping packet", zap.Stringer("remote_addr", remote))
		}
	}
}

// Send writes bytes to addr. On a connected socket (Dial), net.UDPConn
// rejects WriteToUDP, and the frame is written to the dialed peer with
// Write instead; addr is not consulted.
func (c *Carrier) Send(addr net.UDPAddr, bytes []byte) error {
	if len(bytes) > transport.MaxPacketSize {
		return fmt.Errorf("udp: frame of %d bytes exceeds carrier cap %d", len(bytes), transport.MaxPacketSize)
	}
	_, err := c.conn.WriteToUDP(bytes, &addr)
	if err != nil {
		// A connected socket rejects WriteToUDP; fall back to Write.
		_, err = c.conn.Write(bytes)
	}
	return err
}

// Recv returns the next queued (addr, bytes) pair without blocking.
func (c *Carrier) Recv() (net.UDPAddr, []byte, bool) {
	select {
	case pkt := <-c.inbox:
		return pkt.addr, pkt.bytes, true
	default:
		return net.UDPAddr{}, nil, false
	}
}

// Close stops the receive goroutine and releases the socket.
func (c *Carrier) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	return c.conn.Close()
}

var _ transport.Carrier = (*Carrier)(nil)
