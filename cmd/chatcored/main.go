package main

import (
	"context"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"chatcore/internal/app"
	"chatcore/pkg/banner"
	"chatcore/pkg/config"
	"chatcore/pkg/logger"
	"chatcore/pkg/shutdown"
)

// populated via -ldflags at build time
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	_ = godotenv.Load(".env")

	addrFlag, dbFlag, cfgFlag, set := config.ParseCommandFlags()
	cfgPath := config.ResolveConfigPath(cfgFlag, set["config"])

	eff, err := config.LoadEffective(cfgPath)
	if err != nil {
		logger.Init()
		logger.Error("config_load_failed", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	// explicit flags win over file and env
	if set["addr"] && addrFlag != "" {
		if host, port, err := net.SplitHostPort(addrFlag); err == nil {
			eff.Config.Server.Address = host
			if p, err := strconv.Atoi(port); err == nil {
				eff.Config.Server.Port = p
			}
		}
		eff.Sources = append(eff.Sources, "flag:addr")
	}
	if set["db"] && dbFlag != "" {
		eff.Config.Storage.DBPath = dbFlag
		eff.DBPath = dbFlag
		eff.Sources = append(eff.Sources, "flag:db")
	}

	logger.InitWithLevel(eff.Config.Logging.Level)

	a, err := app.New(eff, version, commit, buildDate)
	if err != nil {
		logger.Error("startup_failed", "error", err)
		os.Exit(1)
	}

	banner.Print(eff.Config.Addr(), eff.DBPath, eff.Config.Identity.UserID,
		strings.Join(eff.Sources, ","), version)

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	if err := a.Run(ctx); err != nil {
		logger.Error("daemon_exited", "error", err)
		os.Exit(1)
	}
}
