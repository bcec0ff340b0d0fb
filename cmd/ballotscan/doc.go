// Package main hosts the ballotscan CLI entrypoint and command graph.
//
// Commands translate terminal invocations into IPC calls against the daemon:
// lifecycle (start, stop, restart, status), poll worker actions (polls, card,
// accept, calibrate), and read-only views (state, review, health, history).
// The hidden daemon command runs the daemon in the foreground.
package main
