package main

import (
	"os"

	"github.com/trezcool/ieltstutor/core"
	"github.com/trezcool/ieltstutor/core/user"
	emailsvc "github.com/trezcool/ieltstutor/services/email"
	logsvc "github.com/trezcool/ieltstutor/services/logger"
	"github.com/trezcool/ieltstutor/storage/database"
	sqlxrepos "github.com/trezcool/ieltstutor/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()
	logger := logsvc.NewStdLogger("ADMIN", conf)

	// set up DB
	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal("opening database", err)
	}
	if err = database.Ping(db, 10); err != nil {
		logger.Fatal("pinging database", err)
	}

	// admin commands never send emails
	repo := sqlxrepos.NewUserRepository(db)
	cli := commandLine{
		db:      db,
		usrRepo: repo,
		usrSvc:  user.NewService(repo, emailsvc.NewConsoleService(conf, logger), conf),
	}
	err = cli.run(os.Args)
	_ = db.Close()
	if err != nil {
		if err != errHelp {
			logger.Error("admin command failed", err)
		}
		os.Exit(1)
	}
}
