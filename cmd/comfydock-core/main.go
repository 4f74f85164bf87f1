package main

import (
	"fmt"
	"os"

	"github.com/comfydock/comfydock-core/cmd/comfydock-core/cmd"
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}
