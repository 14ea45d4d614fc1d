package main

import (
	"fmt"
	"os"

	"github.com/activestorage/s3-active-storage/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
