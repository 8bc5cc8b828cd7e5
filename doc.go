// Package supervise runs a single long-lived process (typically a chat bot)
// under supervision: it launches the process, restarts it after a fixed delay
// when it dies, collects its output into a rotated log file, and exposes the
// operator surface an init system would: start, stop, restart, status, enable
// and disable.
//
// The core pieces are the Daemon, which supervises exactly one unit directory,
// and the Client, which controls a running daemon:
//
//	d, err := supervise.NewDaemon("/srv/units/bot")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = d.Run(ctx)
//
// From another process:
//
//	client, err := supervise.NewClient("/srv/units/bot")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = client.Start(ctx)
//	status, err := client.Status(ctx)
//	fmt.Printf("state: %v, pid: %d\n", status.State, status.PID)
//
// # Unit directories
//
// A unit directory holds everything the daemon needs: a unit.yaml definition,
// an optional env/ directory with one file per environment variable, an
// optional down file marking the unit disabled, and a log/ directory. At
// runtime the daemon maintains a supervise/ subdirectory containing the lock
// file, the control socket, and a binary status record compatible with the
// runit status format.
//
// # Trees
//
// The Tree type supervises every unit linked into a scan directory, starting
// a daemon per unit and reacting to links being added or removed. Registering
// a single Tree process with the host init is enough to bring all enabled
// units up at boot.
//
// # Design Philosophy
//
// This library prioritizes:
//
//   - Zero external process spawning for control operations (no exec of sv
//     or systemctl)
//   - Direct communication through control sockets and status files
//   - Context-aware operations with proper timeouts
//   - Type safety (no string-based operation codes)
package supervise
