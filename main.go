package main

import (
	"os"

	_ "pkgkeeper/cmd"
	"pkgkeeper/cmd/root"
	"pkgkeeper/internal/logger"
)

func main() {
	if err := root.RootCmd.Execute(); err != nil {
		logger.Fatal(err)
	}
	os.Exit(0)
}
