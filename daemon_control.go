//go:build linux || darwin

package supervise

import (
	"net"
	"time"

	"go.uber.org/zap"
	"vawter.tech/stopper"
)

// acceptLoop serves the control socket. Each connection may carry one or more
// control bytes; bytes outside the protocol are ignored.
func (d *Daemon) acceptLoop(sctx *stopper.Context, ln net.Listener, ops chan<- Operation) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if sctx.IsStopping() {
				return nil
			}
			select {
			case <-sctx.Stopping():
				return nil
			default:
			}
			// Listener is gone for a reason other than shutdown
			return &OpError{Op: OpUnknown, Path: ln.Addr().String(), Err: err}
		}

		d.handleConn(sctx, conn, ops)
	}
}

// handleConn reads control bytes from one connection and forwards the
// decoded operations to the supervise loop
func (d *Daemon) handleConn(sctx *stopper.Context, conn net.Conn, ops chan<- Operation) {
	defer func() { _ = conn.Close() }()

	_ = conn.SetReadDeadline(time.Now().Add(DefaultReadTimeout))

	buf := make([]byte, 16)
	n, err := conn.Read(buf)
	if err != nil && n == 0 {
		return
	}

	for _, b := range buf[:n] {
		op := operationFromByte(b)
		if op == OpUnknown {
			d.log.Debug("ignoring unknown control byte",
				zap.String("unit", d.Unit.Name), zap.Uint8("byte", b))
			continue
		}

		select {
		case ops <- op:
		case <-sctx.Stopping():
			return
		}
	}
}
