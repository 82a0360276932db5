package main

import (
	"context"
	"fmt"
	"os"

	"github.com/starryvlog/backend/internal/app"
)

const usage = `usage: starryvlog <command>

commands:
  serve            run the HTTP API, realtime hub and message reaper
  migrate [up]     apply pending migrations
  migrate status   list migrations and whether they are applied
  reap             delete expired chat messages and sessions once`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	if err := app.Run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "starryvlog %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}
