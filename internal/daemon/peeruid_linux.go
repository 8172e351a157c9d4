//go:build linux

package daemon

import (
	"fmt"
	"net"
	"os"
	"syscall"
)

// peerUIDMatchesCurrentUser reports whether the connecting peer runs as
// the same user as the daemon, using SO_PEERCRED.
func peerUIDMatchesCurrentUser(conn net.Conn) (bool, error) {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return false, fmt.Errorf("not a unix connection: %T", conn)
	}

	raw, err := unixConn.SyscallConn()
	if err != nil {
		return false, fmt.Errorf("syscall conn: %w", err)
	}

	var cred *syscall.Ucred
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = syscall.GetsockoptUcred(int(fd), syscall.SOL_SOCKET, syscall.SO_PEERCRED)
	}); err != nil {
		return false, fmt.Errorf("control: %w", err)
	}
	if credErr != nil {
		return false, fmt.Errorf("getsockopt SO_PEERCRED: %w", credErr)
	}

	return int(cred.Uid) == os.Getuid(), nil
}
