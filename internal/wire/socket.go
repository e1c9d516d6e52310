package wire

import (
	"net"
	"strconv"

	"stormring/internal/arena"
	"stormring/internal/logger"
)

// Packet is a received datagram: the raw bytes (kept so a ring-forwarding
// handler can resend them unmodified) and the sender's address.
type Packet struct {
	B     []byte
	Raddr net.UDPAddr
}

// Listen binds a UDP socket on addr:port. An empty addr or zero port lets
// the OS choose, mirroring the teacher's remoteNode.Listen.
func Listen(addr string, port int, log logger.Logger) (*net.UDPConn, error) {
	log.Debugf("wire: listening on %s:%d", addr, port)
	pc, err := net.ListenPacket("udp4", addr+":"+strconv.Itoa(port))
	if err != nil {
		log.Errorf("wire: listen failed: %v", err)
		return nil, err
	}
	return pc.(*net.UDPConn), nil
}

// ReadLoop reads datagrams from conn into packets until stop is closed.
// Buffers come from bytesArena and must be returned with arena.Push by the
// consumer once it is done with the packet's bytes.
func ReadLoop(conn *net.UDPConn, packets chan<- Packet, bytesArena arena.Arena, stop <-chan struct{}, log logger.Logger) {
	for {
		b := bytesArena.Pop()
		n, addr, err := conn.ReadFromUDP(b)
		if err != nil {
			select {
			case <-stop:
				return
			default:
			}
			log.Debugf("wire: read error: %v", err)
			bytesArena.Push(b)
			continue
		}
		if n == MaxDatagramSize {
			log.Debugf("wire: datagram hit the %d-byte budget, may be truncated", MaxDatagramSize)
		}
		b = b[:n]
		select {
		case packets <- Packet{B: b, Raddr: *addr}:
		case <-stop:
			return
		}
	}
}

// SendTo encodes and sends env to raddr.
func SendTo(conn *net.UDPConn, raddr net.UDPAddr, env Envelope, log logger.Logger) error {
	b, err := Encode(env)
	if err != nil {
		log.Errorf("wire: encode failed: %v", err)
		return err
	}
	return SendRaw(conn, raddr, b, log)
}

// SendRaw sends pre-encoded bytes unchanged. Used by ring-forwarding
// handlers that must not re-serialize a message they don't fully own
// (REDESIGN FLAGS).
func SendRaw(conn *net.UDPConn, raddr net.UDPAddr, b []byte, log logger.Logger) error {
	if _, err := conn.WriteToUDP(b, &raddr); err != nil {
		log.Errorf("wire: write to %v failed: %v", raddr, err)
		return err
	}
	return nil
}

// ResolveAddr builds the net.UDPAddr for a given dotted-quad/port pair.
func ResolveAddr(ip string, port int) net.UDPAddr {
	return net.UDPAddr{IP: net.ParseIP(ip), Port: port}
}
