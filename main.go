package main

import (
	"flag"

	"github.com/terraconnect/terra-connect/backend"
)

func main() {
	envPath := flag.String("env", "backend/.env", "path to the .env file")
	flag.Parse()

	backend.RunBackend(*envPath)
}
