package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/binzume/xmodelconv/config"
	"github.com/binzume/xmodelconv/logger"
	"go.uber.org/zap"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s input.xmodel_export|input.glb [output]\n", os.Args[0])
		flag.PrintDefaults()
	}
	confFile := flag.String("config", "", "config file (default: <input>.xmodelconv.yaml or ./xmodelconv.yaml)")
	scale := flag.Float64("scale", 0, "position scale. 0: from config")
	debug := flag.Bool("debug", false, "enable debug logging")
	logLevel := flag.String("loglevel", "", "debug|info|warn|error")
	logFile := flag.String("logfile", "", "log file")
	writeConf := flag.String("writeconfig", "", "write the effective config to this file")
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		return
	}
	input := flag.Arg(0)

	cfg, err := config.Load(*confFile, input, &config.Overrides{
		Scale:    float32(*scale),
		Debug:    *debug,
		LogLevel: *logLevel,
		LogFile:  *logFile,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.File, os.Stderr)
	defer log.Sync()

	if *writeConf != "" {
		if err := cfg.SaveTo(*writeConf); err != nil {
			log.Error("write config", zap.Error(err))
			os.Exit(1)
		}
	}

	output := flag.Arg(1)
	if output == "" {
		output = defaultOutputFile(input, cfg)
	}

	log.Info("convert", zap.String("in", input), zap.String("out", output))
	if err := convert(input, output, cfg, log); err != nil {
		log.Error("failed", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
}
