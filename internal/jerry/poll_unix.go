//go:build unix

package jerry

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// pollReadable checks with a zero timeout whether a read on conn would
// return without blocking. supported is false when conn has no pollable
// descriptor.
func pollReadable(conn net.Conn) (ready bool, supported bool, err error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return false, false, nil
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return false, false, err
	}

	var n int
	var revents int16
	var pollErr error
	ctrlErr := rc.Control(func(fd uintptr) {
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		for {
			n, pollErr = unix.Poll(fds, 0)
			if pollErr != unix.EINTR {
				break
			}
		}
		revents = fds[0].Revents
	})
	if ctrlErr != nil {
		return false, true, ctrlErr
	}
	if pollErr != nil {
		return false, true, pollErr
	}
	// POLLHUP and POLLERR also mean the next read returns immediately.
	return n > 0 && revents != 0, true, nil
}
