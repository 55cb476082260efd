package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/bwmarrin/discordgo"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/halite-audio/halite/internal/config"
	"github.com/halite-audio/halite/internal/server"
	"github.com/halite-audio/halite/internal/transport"
	"github.com/halite-audio/halite/pkg/engine"
)

var (
	ConfigPath   string
	EngineType   string
	DiscordToken string
)

func init() {
	flag.StringVar(&ConfigPath, "config", "halite.yml", "Path to the configuration file")
	flag.StringVar(&EngineType, "engine", "mock", "Audio engine: mock")
	flag.StringVar(&DiscordToken, "discord-token", "", "Discord bot token enabling the Discord voice transport")
	flag.Parse()

	// Load from environment
	if err := godotenv.Load(); err != nil {
		logrus.WithError(err).Debug("Error loading .env file, using environment variables")
	}
	if DiscordToken == "" {
		DiscordToken = os.Getenv("DISCORD_TOKEN")
	}
}

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}

	cfg, err := config.Load(ConfigPath)
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer cancel()

	var eng engine.Engine
	switch strings.ToLower(EngineType) {
	case "mock":
		eng = engine.NewMockEngine()
		logrus.Info("Using mock audio engine")
	default:
		logrus.WithField("engine", EngineType).Fatal("Unknown audio engine")
	}

	var tp transport.Provider = transport.NewNoop()
	if DiscordToken != "" {
		session, err := discordgo.New("Bot " + DiscordToken)
		if err != nil {
			logrus.WithError(err).Fatal("Error creating Discord session")
		}
		if err := session.Open(); err != nil {
			logrus.WithError(err).Fatal("Error connecting to Discord")
		}
		defer func() {
			if err := session.Close(); err != nil {
				logrus.WithError(err).Warn("Failed to close Discord session")
			}
		}()
		tp = transport.NewDiscord(session)
		logrus.Info("Using Discord voice transport")
	} else {
		logrus.Info("No Discord token; voice frames will be discarded")
	}

	srv := server.New(cfg, eng, tp)
	if err := srv.Run(ctx); err != nil {
		logrus.WithError(err).Fatal("Server error")
	}
	logrus.Info("Shut down gracefully")
}
