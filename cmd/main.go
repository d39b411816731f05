package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		// Use stderr directly since the logger may not be initialized yet
		os.Stderr.WriteString("devpulse: " + err.Error() + "\n")
		os.Exit(1)
	}
}
