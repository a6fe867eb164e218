package main

import (
	"context"
	"os"
	"time"

	"github.com/videochat/groupcall/pkg/config"
	"github.com/videochat/groupcall/pkg/logger"
	gos "github.com/videochat/groupcall/pkg/os"
	"github.com/videochat/groupcall/pkg/server"
	"github.com/videochat/groupcall/pkg/service"
)

var Version = "?"

const shutdownTimeout = 10 * time.Second

func main() {
	conf, path, err := config.NewConfig(os.Args[1:])
	if err != nil {
		logger.Default().Fatal().Err(err).Msg("config")
	}
	log := logger.NewConsole(conf.Signal.Debug, "s", conf.Signal.NoColor)

	log.Info().Msgf("version %s", Version)
	if path == "" {
		log.Warn().Msg("No config file, the defaults are used")
	} else {
		log.Info().Msgf("config: %v", path)
	}
	if log.GetLevel() < logger.InfoLevel {
		log.Debug().Msgf("config: %+v", conf)
	}

	if conf.Server.LockFile != "" {
		lock, err := gos.NewFileLock(conf.Server.LockFile)
		if err != nil {
			log.Fatal().Err(err).Msg("lock")
		}
		if err = lock.TryLock(); err != nil {
			log.Fatal().Err(err).Str("file", lock.Path()).Msg("another server is running")
		}
		defer func() { _ = lock.Unlock() }()
	}

	var extra []service.Service
	if path != "" {
		w, err := config.NewWatcher(path, func(c config.Config) {
			logger.SetDebug(c.Signal.Debug)
			log.Info().Bool("debug", c.Signal.Debug).Msg("config is reloaded")
		}, log)
		if err != nil {
			log.Warn().Err(err).Msg("no config watcher")
		} else {
			extra = append(extra, w)
		}
	}

	s, err := server.New(conf, log, extra...)
	if err != nil {
		log.Fatal().Err(err).Msg("server")
	}
	s.Start()

	<-gos.ExpectTermination()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err = s.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("service shutdown errors")
	}
}
