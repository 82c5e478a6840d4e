package main

import (
	"context"
	"fmt"
	"os"

	"loandesk/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "loandesk:", err)
		os.Exit(1)
	}
}
