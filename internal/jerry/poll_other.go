//go:build !unix

package jerry

import "net"

func pollReadable(conn net.Conn) (ready bool, supported bool, err error) {
	return false, false, nil
}
