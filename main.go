package main

import (
	"embed"
	"log/slog"
	"os"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"permbridge/config"
)

//go:embed all:frontend/dist
var assets embed.FS

func main() {
	cfg, err := config.LoadOrCreate(config.DefaultPath())
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(cfg.Logger())

	app := NewApp(cfg)
	err = wails.Run(&options.App{
		Title:  "permbridge",
		Width:  520,
		Height: 640,
		AssetServer: &assetserver.Options{
			Assets: assets,
		},
		OnStartup:  app.startup,
		OnShutdown: app.shutdown,
		Bind:       []interface{}{app},
	})
	if err != nil {
		slog.Error("run desktop host", "error", err)
		os.Exit(1)
	}
}
