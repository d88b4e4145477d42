package main

import (
	"os"

	"presence-backend/internal/app"
)

func main() {
	os.Exit(app.Run())
}
