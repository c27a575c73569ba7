// Command stageflow serves and administers workflow pipelines.
package main

import (
	"context"
	"os"
)

func main() {
	cmd := newRootCmd()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
