//go:build darwin

package ipc

import (
	"net"

	"golang.org/x/sys/unix"
)

// GetPeerCredentials reads LOCAL_PEERCRED from a unix socket. Xucred
// carries no PID.
func GetPeerCredentials(conn net.Conn) (*PeerCredentials, error) {
	return peerCred(conn, func(fd int) (*PeerCredentials, error) {
		c, err := unix.GetsockoptXucred(fd, unix.SOL_LOCAL, unix.LOCAL_PEERCRED)
		if err != nil {
			return nil, err
		}
		cred := &PeerCredentials{UID: int(c.Uid)}
		if c.Ngroups > 0 {
			cred.GID = int(c.Groups[0])
		}
		return cred, nil
	})
}
