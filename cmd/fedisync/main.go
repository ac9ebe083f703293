package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/fedisync/internal/app"
	"github.com/dmitrijs2005/fedisync/internal/config"
	"github.com/dmitrijs2005/fedisync/internal/flagx"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()
	a, err := app.NewApp(ctx, cfg)

	if err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}

	err = a.Run(ctx, flagx.Positional(os.Args[1:], config.ValueFlags))
	if cerr := a.Close(); cerr != nil {
		log.Printf("close store: %v", cerr)
	}
	if err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}
}
