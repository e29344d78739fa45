package cmd

import (
	"log"
	"os"

	"chatrelay/internal/api/server"
	"chatrelay/internal/config"
	"chatrelay/internal/logger"
)

func init() {
	config.Init()
}

func Execute() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatal(err)
	}

	dev := config.Dev || cfg.Mode == config.ModeDevelopment
	logger.InitLogger(dev, config.LogPath, os.Stderr)

	server.Init()
	if err := server.Run(cfg, config.Addr); err != nil {
		log.Fatal("Error starting server: ", err)
	}
}
