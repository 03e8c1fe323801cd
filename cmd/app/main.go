package main

import (
	"fmt"
	"io/fs"
	"os"
	"strings"

	"audio-transcriber/internal/bootstrap"
)

// frontendDirEnv points the desktop shell at a built front-end directory.
const frontendDirEnv = "TRANSCRIBER_FRONTEND_DIR"

func main() {
	var assets fs.FS
	if dir := strings.TrimSpace(os.Getenv(frontendDirEnv)); dir != "" {
		assets = os.DirFS(dir)
	}

	app, err := bootstrap.NewWithAssets(assets)
	if err != nil {
		fmt.Fprintf(os.Stderr, "start audio transcriber: %v\n", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "run audio transcriber: %v\n", err)
		os.Exit(1)
	}
}
