package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"ifcsplit/internal/app"
)

func main() {
	cfgPath := flag.String("config", "configs/local.yaml", "path to config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	a := app.New(ctx, *cfgPath)
	if err := a.Run(ctx); err != nil {
		log.Fatalln("ifcsplitd:", err)
	}
}
