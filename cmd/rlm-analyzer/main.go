package main

import (
	"os"

	"github.com/zendizmo/rlm-analyzer/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
