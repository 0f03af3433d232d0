package main

import (
	"net/http"

	"cocode/config"
	"cocode/middleware"
	"cocode/pkg/logger"
	"cocode/router"
	"cocode/socket"
)

func main() {
	logger.Init()
	defer logger.Log.Sync()

	cfg := config.Load()

	gate := middleware.NewAdmissionGate(cfg.MaxConnectionsPerIP, cfg.AllowedOrigins, cfg.Production())

	hub := socket.NewHub(gate.Limiter)
	go hub.Run()

	handler := router.Setup(hub, gate)

	logger.Sugar.Infof("CoCode session server running on port %s", cfg.Port)
	logger.Sugar.Infof("Environment: %s", cfg.Env)
	if err := http.ListenAndServe(":"+cfg.Port, handler); err != nil {
		logger.Sugar.Fatalf("Server failed: %v", err)
	}
}
