// Package app wires application dependencies for the CLI.
//
// It builds the relay clients and the per-visit session service from
// Config, exposing them via the Wire struct for commands to use.
package app
