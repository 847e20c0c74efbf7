package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/dshills/flowgraph/pkg/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, cli.ErrRunNotCompleted) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
