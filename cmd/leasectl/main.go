package main

import (
	"fmt"
	"os"

	"github.com/dmitrijs2005/leasekeeper/cmd/leasectl/commands"
)

func main() {
	if err := commands.NewRootCommand(commands.DefaultOptions()).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
