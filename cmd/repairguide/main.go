package main

import (
	"context"
	"fmt"
	"os"

	"github.com/yungbote/repairguide-backend/internal/app"
	"github.com/yungbote/repairguide-backend/internal/platform/shutdown"
)

func main() {
	ctx, stop := shutdown.NotifyContext(context.Background())
	defer stop()

	a, err := app.New(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init app: %v\n", err)
		os.Exit(1)
	}

	err = a.Run(ctx)
	a.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Server exited: %v\n", err)
		os.Exit(1)
	}
}
