package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/ddanilov/podvault/internal/server"
	"github.com/ddanilov/podvault/internal/server/auth"
	"github.com/ddanilov/podvault/internal/server/config"
)

func main() {
	ctx := context.Background()
	cfg := config.LoadConfig()

	// "server issue <device-id>" prints a signed device token and exits
	if len(os.Args) > 2 && os.Args[1] == "issue" {
		token, err := auth.GenerateToken(os.Args[2], []byte(cfg.SecretKey), cfg.TokenValidityDuration)
		if err != nil {
			log.Fatalf("%v", err)
		}
		fmt.Println(token)
		return
	}

	app, err := server.NewApp(ctx, cfg)
	if err != nil {
		log.Printf("%v", err)
		return
	}

	if err := app.Run(ctx); err != nil {
		log.Printf("%v", err)
	}
}
