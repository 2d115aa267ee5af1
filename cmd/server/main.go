package main

import (
	"log/slog"
	"os"

	"kpi/internal/app/server"
)

func main() {
	if err := server.Run(); err != nil {
		slog.Error("kpi server stopped", "err", err)
		os.Exit(1)
	}
}
