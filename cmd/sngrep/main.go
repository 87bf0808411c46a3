// Command sngrep captures and analyzes SIP traffic.
package main

import (
	"fmt"
	"os"

	"github.com/otus-project/sngrep/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
