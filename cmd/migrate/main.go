package main

import (
	"finance_tracker/internal/config" // Configuration
	"finance_tracker/internal/db"     // Database

	"github.com/sirupsen/logrus"
)

// Main entry point for migration
func main() {
	cfg := config.LoadConfig()
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	db.Migrate(cfg)
}
