package main

import (
	"github.com/joho/godotenv"
)

func main() {
	// A .env file in the working directory can supply NOTED_CLIENT_ID and
	// friends during development. Missing file is fine.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		exitOnError(err)
	}
}
