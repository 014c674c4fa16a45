// cmd/streamline/main.go
//
// This is the entry point for the streamline CLI.
// Running `streamline` with no subcommand opens the interactive shell for the
// current directory. The subcommands issue one remote call each, or start a
// local mock of the remote service for offline work.

package main

func main() {
	Execute()
}
