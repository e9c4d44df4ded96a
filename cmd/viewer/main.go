package main

import (
	"flag"
	"fmt"
	"time"

	"chain-viewer/internal/api"
	"chain-viewer/internal/config"
	"chain-viewer/internal/controller"
	"chain-viewer/internal/history"
	"chain-viewer/internal/transport"
	"chain-viewer/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "path to config file")
	flag.Parse()

	// 1. Load Config
	config.LoadConfig(configPath)
	cfg := config.GlobalConfig

	// 2. Init Logger
	logger.InitLogger(cfg.Server.Mode)
	defer logger.Log.Sync()

	logger.Log.Info("Starting viewer...",
		zap.String("mode", cfg.Server.Mode),
		zap.String("transport", cfg.Backend.Transport),
	)

	// 3. Init History Store
	db, err := history.OpenDB(cfg.History.DSN)
	if err != nil {
		logger.Log.Fatal("failed to open history store", zap.Error(err))
	}
	rdb := history.NewRedis(cfg.History.RedisAddr, cfg.History.RedisDB)
	hist := history.NewService(db, rdb)

	// 4. Init Transport & Controller
	var tr transport.Transport
	switch cfg.Backend.Transport {
	case "poll":
		tr = transport.NewPoll(cfg.Backend.URL)
	default:
		tr = transport.NewWS(cfg.Backend.URL, time.Duration(cfg.Backend.ReconnectDelay)*time.Second)
	}

	ctl := controller.New(tr, hist, controller.Options{
		AnimationWindow: time.Duration(cfg.Animation.WindowMillis) * time.Millisecond,
		DefaultSpeed:    cfg.AutoPlay.DefaultSpeed,
		MinSpeed:        cfg.AutoPlay.MinSpeed,
		MaxSpeed:        cfg.AutoPlay.MaxSpeed,
	})
	defer ctl.Close()

	if err := tr.Connect(); err != nil {
		// not fatal: the backend may come up later, POST /connect retries
		logger.Log.Warn("initial backend connect failed", zap.Error(err))
	}

	// 5. Init Router
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()

	api.RegisterRoutes(r, ctl, hist, tr)

	// 6. Start Server
	addr := fmt.Sprintf(":%s", cfg.Server.Port)
	logger.Log.Info("Viewer listening", zap.String("addr", addr))
	if err := r.Run(addr); err != nil {
		logger.Log.Fatal("Server failed to start", zap.Error(err))
	}
}
