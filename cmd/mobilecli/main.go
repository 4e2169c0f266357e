package main

import (
	"os"

	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
