// Copyright (C) 2025 Praxis Learning (oss@praxislearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command tutor starts the Praxis adaptive tutoring HTTP server.
//
// This is the main entry point for the containerized tutor service. It
// reads configuration from environment variables and starts the server.
//
// # Environment Variables
//
//   - TUTOR_PORT: HTTP server port (default: 12190)
//   - LLM_BACKEND_TYPE: gateway provider - deepseek, openai (default: deepseek)
//   - DEEPSEEK_API_KEY / DEEPSEEK_BASE_URL: gateway credentials and endpoint
//   - WEAVIATE_SERVICE_URL: Weaviate vector DB URL (optional)
//   - INFLUXDB_URL / INFLUXDB_TOKEN: mastery progress series (optional)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (optional)
//   - TUTOR_BADGER_PATH: learner store directory (default: ./data/tutor-memory)
//   - TUTOR_CONCEPTS_PATH: external concept dictionary, hot-reloaded (optional)
//   - TUTOR_DEBUG: "1" routes traces to stdout when no collector is set
//
// # Usage
//
//	# Build
//	go build -o tutor ./cmd/tutor
//
//	# Run
//	./tutor
//
//	# Or via container
//	podman-compose up tutor
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/praxislearn/praxis/services/tutor"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Build configuration from environment variables
	cfg := tutor.Config{
		Port:           getEnvInt("TUTOR_PORT", 12190),
		LLMBackend:     getEnvString("LLM_BACKEND_TYPE", "deepseek"),
		WeaviateURL:    os.Getenv("WEAVIATE_SERVICE_URL"),
		OTelEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		BadgerPath:     getEnvString("TUTOR_BADGER_PATH", "./data/tutor-memory"),
		DictionaryPath: os.Getenv("TUTOR_CONCEPTS_PATH"),
		Debug:          os.Getenv("TUTOR_DEBUG") == "1",
	}

	slog.Info("Starting tutor",
		"port", cfg.Port,
		"llm_backend", cfg.LLMBackend,
		"weaviate_url", cfg.WeaviateURL,
	)

	// Create the tutor with default (no-op) extension options.
	// Hosted builds pass custom ServiceOptions here.
	svc, err := tutor.New(cfg, nil)
	if err != nil {
		log.Fatalf("Failed to create tutor: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Tutor error: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
