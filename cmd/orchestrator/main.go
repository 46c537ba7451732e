// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/AleutianAI/AleutianChat/services/orchestrator"
)

func main() {
	// In development a local .env supplies keys; production relies on
	// real environment variables.
	if os.Getenv("APP_ENV") == "" || os.Getenv("APP_ENV") == "development" {
		if err := godotenv.Load(); err == nil {
			slog.Info("Loaded environment from .env")
		}
	}

	cfg := orchestrator.LoadConfigFromEnv()
	if port := os.Getenv("ORCHESTRATOR_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			log.Fatalf("invalid ORCHESTRATOR_PORT %q: %v", port, err)
		}
		cfg.Port = p
	}

	svc, err := orchestrator.New(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to start the chat orchestrator: %v", err)
	}
	if err := svc.Run(); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
