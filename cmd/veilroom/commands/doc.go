// Package commands defines the veilroom CLI and wires dependencies for
// subcommands.
//
// Commands
//
//   - create  Register an ephemeral room on the relay
//   - join    Enter a room and chat until you leave
//
// # Implementation
//
// The root command builds the dependency graph (relay client, session
// factory) before any subcommand runs, so handlers share one app context.
// The room password never leaves the process; the relay sees only a hash
// of the derived auth key.
package commands
