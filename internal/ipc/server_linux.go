//go:build linux

package ipc

import (
	"net"

	"golang.org/x/sys/unix"
)

// GetPeerCredentials reads SO_PEERCRED from a unix socket.
func GetPeerCredentials(conn net.Conn) (*PeerCredentials, error) {
	return peerCred(conn, func(fd int) (*PeerCredentials, error) {
		c, err := unix.GetsockoptUcred(fd, unix.SOL_SOCKET, unix.SO_PEERCRED)
		if err != nil {
			return nil, err
		}
		return &PeerCredentials{PID: int(c.Pid), UID: int(c.Uid), GID: int(c.Gid)}, nil
	})
}
