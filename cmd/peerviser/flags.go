package main

import "time"

// Flag structs to decouple cobra from logic for testing.

// GlobalFlags holds persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
}

// ServeFlags holds flags for the serve command.
type ServeFlags struct {
	Daemonize bool
	PidFile   string
	LogFile   string
}

// DaemonFlags holds flags for commands addressing one daemon over the API.
type DaemonFlags struct {
	Daemon     string
	APIUrl     string
	APITimeout time.Duration
}

// StopFlags holds flags for the stop command.
type StopFlags struct {
	Daemon     string
	Wait       time.Duration
	APIUrl     string
	APITimeout time.Duration
}

// CheckFlags holds flags for the check command.
type CheckFlags struct {
	ConfigPath string
}
