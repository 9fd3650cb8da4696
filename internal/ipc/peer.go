package ipc

import (
	"errors"
	"fmt"
	"net"
	"os"
)

// ErrPeerCredentialsUnsupported is returned where the platform cannot
// report the process on the other end of a socket.
var ErrPeerCredentialsUnsupported = errors.New("ipc: peer credentials not supported")

// PeerCredentials identify the process behind a socket. PID is zero where
// the platform does not report it.
type PeerCredentials struct {
	PID int
	UID int
	GID int
}

// VerifyPeerIsCurrentUser reports whether the peer runs as our user.
func VerifyPeerIsCurrentUser(conn net.Conn) (bool, error) {
	cred, err := GetPeerCredentials(conn)
	if err != nil {
		return false, err
	}
	return cred.UID == os.Getuid(), nil
}

// peerCred runs query against the socket descriptor of a unix connection.
func peerCred(conn net.Conn, query func(fd int) (*PeerCredentials, error)) (*PeerCredentials, error) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return nil, fmt.Errorf("not a unix connection: %T", conn)
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("get raw conn: %w", err)
	}
	var cred *PeerCredentials
	var qerr error
	if err := raw.Control(func(fd uintptr) { cred, qerr = query(int(fd)) }); err != nil {
		return nil, fmt.Errorf("control: %w", err)
	}
	if qerr != nil {
		return nil, fmt.Errorf("getsockopt: %w", qerr)
	}
	return cred, nil
}

// SetSocketPermissions chmods the socket file.
func SetSocketPermissions(path string, mode os.FileMode) error {
	return os.Chmod(path, mode)
}

// CleanupSocket removes a leftover socket file. Anything else at path is
// left alone and reported.
func CleanupSocket(path string) error {
	info, err := os.Lstat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil
	case err != nil:
		return err
	case info.Mode()&os.ModeSocket == 0:
		return fmt.Errorf("path exists but is not a socket: %s", path)
	}
	return os.Remove(path)
}

// IsSocketListening reports whether something accepts connections on path.
func IsSocketListening(path string) bool {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
