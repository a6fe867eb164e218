package socket

import (
	"errors"
	"net"
	"os"
	"runtime"
	"syscall"
)

const listenAttempts = 42
const udpBufferSize = 16 * 1024 * 1024

var ErrNoPorts = errors.New("no available ports")

// NewUDP listens on the UDP port with large socket buffers,
// zero port picks a random one.
func NewUDP(proto string, port int) (*net.UDPConn, error) {
	switch proto {
	case "udp", "udp4", "udp6":
	default:
		return nil, errors.New("not a UDP protocol: " + proto)
	}
	l, err := net.ListenUDP(proto, &net.UDPAddr{Port: port})
	if err != nil {
		return nil, err
	}
	_ = l.SetReadBuffer(udpBufferSize)
	_ = l.SetWriteBuffer(udpBufferSize)
	return l, nil
}

// NewUDPPortRoll listens on the port or on the next free one.
// See: NewUDP.
func NewUDPPortRoll(proto string, port int) (*net.UDPConn, error) {
	l, err := NewUDP(proto, port)
	if err == nil {
		return l, nil
	}
	if !IsPortBusyError(err) {
		return nil, err
	}
	for i := port + 1; i < port+listenAttempts; i++ {
		if l, err = NewUDP(proto, i); err == nil {
			return l, nil
		}
	}
	return nil, ErrNoPorts
}

// Port returns the local port of the connection.
func Port(conn net.PacketConn) int {
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.Port
	}
	return 0
}

// IsPortBusyError tests if the given error is one of
// the port busy errors.
func IsPortBusyError(err error) bool {
	if err == nil {
		return false
	}
	var eOsSyscall *os.SyscallError
	if !errors.As(err, &eOsSyscall) {
		return false
	}
	var errErrno syscall.Errno
	if !errors.As(eOsSyscall, &errErrno) {
		return false
	}
	if errErrno == syscall.EADDRINUSE {
		return true
	}
	const WSAEADDRINUSE = 10048
	return runtime.GOOS == "windows" && errErrno == WSAEADDRINUSE
}
