package main

import (
	"fmt"
	"os"

	"spectra/config"
	"spectra/presentation/terminal"
)

func main() {
	cfg, err := config.Load(os.Getenv("SPECTRA_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	termInterface, err := terminal.NewTerminalInterface(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}

	if err := termInterface.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
