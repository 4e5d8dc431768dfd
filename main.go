package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/hbomb79/Muse/internal"
	"github.com/hbomb79/Muse/pkg/logger"
	homedir "github.com/mitchellh/go-homedir"
)

var log = logger.Get("Main")

// main is the entry point to the program; it loads the users Muse
// configuration and boots either the long-running pipeline services, or
// the one-shot retag maintenance pass.
func main() {
	configPath := flag.String("config", defaultConfigPath(), "path to the YAML configuration file")
	retagContainer := flag.String("retag", "", "run the one-shot retag pass over the given container and exit")
	retagReport := flag.String("retag-report", "retag_report.csv", "path the retag pass writes it's CSV report to")
	flag.Parse()

	config := internal.MuseConfig{}
	if err := config.LoadFromFile(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %s\n", err.Error())
		os.Exit(1)
	}

	muse := internal.New(config)

	if *retagContainer != "" {
		if err := muse.RunRetag(*retagContainer, *retagReport); err != nil {
			log.Emit(logger.FATAL, "Retag pass failed: %s\n", err.Error())
			os.Exit(1)
		}

		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := muse.Run(ctx); err != nil {
		log.Emit(logger.FATAL, "Muse stopped with error: %s\n", err.Error())
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	home, err := homedir.Dir()
	if err != nil {
		return "muse.yaml"
	}

	return filepath.Join(home, ".config", "muse", "muse.yaml")
}
