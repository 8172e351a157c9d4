//go:build darwin

package daemon

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// peerUIDMatchesCurrentUser reports whether the connecting peer runs as
// the same user as the daemon, using LOCAL_PEERCRED.
func peerUIDMatchesCurrentUser(conn net.Conn) (bool, error) {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return false, fmt.Errorf("not a unix connection: %T", conn)
	}

	raw, err := unixConn.SyscallConn()
	if err != nil {
		return false, fmt.Errorf("syscall conn: %w", err)
	}

	var cred *unix.Xucred
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptXucred(int(fd), unix.SOL_LOCAL, unix.LOCAL_PEERCRED)
	}); err != nil {
		return false, fmt.Errorf("control: %w", err)
	}
	if credErr != nil {
		return false, fmt.Errorf("getsockopt LOCAL_PEERCRED: %w", credErr)
	}

	return int(cred.Uid) == os.Getuid(), nil
}
