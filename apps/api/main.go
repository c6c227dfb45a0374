package main

import (
	"context"
	"database/sql"
	"expvar"
	"fmt"
	"net/http"
	_ "net/http/pprof" // register the /debug/pprof handlers
	"time"

	"github.com/go-playground/validator/v10"

	echoapi "github.com/trezcool/ieltstutor/apps/api/echo"
	"github.com/trezcool/ieltstutor/core"
	"github.com/trezcool/ieltstutor/core/auth"
	"github.com/trezcool/ieltstutor/core/user"
	appfs "github.com/trezcool/ieltstutor/fs"
	emailsvc "github.com/trezcool/ieltstutor/services/email"
	googlesvc "github.com/trezcool/ieltstutor/services/google"
	logsvc "github.com/trezcool/ieltstutor/services/logger"
	"github.com/trezcool/ieltstutor/storage/database"
	sqlxrepos "github.com/trezcool/ieltstutor/storage/database/sqlx"
	"github.com/trezcool/ieltstutor/storage/sessions"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up loggers
	logger := logsvc.NewStdLogger("API", conf)
	dbLogger := logsvc.NewStdLogger("DB", conf)

	// set up DB
	db, err := setUpDB(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	defer func() {
		if err = db.Close(); err != nil {
			dbLogger.Fatal("Failed to close", err)
		}
	}()

	authStore, closeStore := setUpAuthStore(conf, logger)
	defer closeStore()

	// set up services
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf, logger)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}
	usrSvc := user.NewService(sqlxrepos.NewUserRepository(db), mailSvc, conf)

	var google auth.IdentityProvider
	if conf.GoogleEnabled() {
		provider, err := googlesvc.NewProvider(context.Background(), conf.Google, nil)
		if err != nil {
			logger.Fatal(fmt.Sprintf("setting up google sign-in: %v", err), err)
		}
		google = provider
	} else {
		logger.Info("google sign-in disabled: missing client configuration")
	}

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	core.ParseEmailTemplates(appfs.FS, logger, false)

	user.LoadCommonPasswords(appfs.FS, logger)

	if conf.Auth.DevPersonaFallback {
		if conf.Debug {
			logger.Warn("persona headers are accepted: never enable this outside development")
		} else {
			logger.Warn("auth.devPersonaFallback ignored: debug is off")
		}
	}

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:       conf,
			Logger:     logger,
			UserSvc:    usrSvc,
			AuthStore:  authStore,
			Google:     google,
			Validate:   validate,
			Translator: translator,
		},
	)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

func setUpDB(conf *core.Config) (*sql.DB, error) {
	if err := database.CreateIfNotExist(conf); err != nil {
		return nil, err
	}

	db, err := database.Open(conf)
	if err != nil {
		return nil, err
	}

	if err = database.Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// setUpAuthStore uses redis when configured so refresh sessions survive restarts and are shared between instances.
func setUpAuthStore(conf *core.Config, logger core.Logger) (auth.Store, func()) {
	if conf.Redis.URL == "" {
		logger.Info("redis not configured: refresh sessions are kept in memory")
		return sessions.NewMemoryStore(), func() {}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := sessions.NewRedisClient(ctx, conf.Redis.URL)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up redis: %v", err), err)
	}
	return sessions.NewRedisStore(client), func() {
		if err := client.Close(); err != nil {
			logger.Error("closing redis", err)
		}
	}
}
