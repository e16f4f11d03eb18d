package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hireloop/wabridge/internal/daemon"
	"go.uber.org/fx"
)

func main() {
	dataDir := flag.String("data-dir", defaultDataDir(), "directory for databases, credentials and media")
	configPath := flag.String("config", "", "path to wabridge.toml (default: <data-dir>/wabridge.toml)")
	flag.Parse()

	if *dataDir == "" {
		fmt.Fprintln(os.Stderr, "error: data dir could not be determined, pass -data-dir")
		os.Exit(1)
	}
	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = filepath.Join(*dataDir, "wabridge.toml")
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			ConfigPath: cfgPath,
			DataDir:    *dataDir,
		}),
	)

	app.Run()
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".wabridge")
}
