package main

import (
	"os"

	"github.com/trezcool/ieltstutor/core"
	"github.com/trezcool/ieltstutor/core/session"
	logsvc "github.com/trezcool/ieltstutor/services/logger"
)

func main() {
	conf := core.NewConfig()
	logger := logsvc.NewStdLogger("CLIENT", conf)

	storage, err := session.NewFileStorage(conf.Client.StatePath)
	if err != nil {
		logger.Fatal("opening session storage", err)
	}
	cli, err := newCommandLine(conf.Client, storage, logger, os.Stdout)
	if err != nil {
		logger.Fatal("setting up client", err)
	}
	err = cli.run(os.Args)
	cli.close()
	if err != nil {
		if err != errHelp {
			logger.Error("command failed", err)
		}
		os.Exit(1)
	}
}
