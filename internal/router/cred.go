package router

import (
	"net"
	"os"

	"golang.org/x/sys/unix"

	"github.com/axon-project/axon/pkg/axerr"
)

// verifyPeerCredential enforces that the connecting process's UID equals
// the socket owner's (this daemon's) UID, via SO_PEERCRED on Linux.
func verifyPeerCredential(conn *net.UnixConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return axerr.Wrap(axerr.CodeInternal, "inspect control socket connection", err)
	}

	var cred *unix.Ucred
	var credErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if ctrlErr != nil {
		return axerr.Wrap(axerr.CodeInternal, "read SO_PEERCRED", ctrlErr)
	}
	if credErr != nil {
		return axerr.Wrap(axerr.CodeInternal, "read SO_PEERCRED", credErr)
	}

	if int(cred.Uid) != os.Getuid() {
		return axerr.New(axerr.CodeInternal, "connecting uid does not match control socket owner")
	}
	return nil
}
