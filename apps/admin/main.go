package main

import (
	"context"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/identity"
	"github.com/trezcool/campus/core/session"
	emailsvc "github.com/trezcool/campus/services/email"
	logsvc "github.com/trezcool/campus/services/logger"
	"github.com/trezcool/campus/storage/database"
	inmemdb "github.com/trezcool/campus/storage/database/inmem"
	sqlxrepos "github.com/trezcool/campus/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()
	logger := logsvc.NewRollbarLogger(logsvc.NewZerolog(conf), conf)
	logger.Enable(false)

	// set up DB
	var (
		db   *sqlx.DB
		repo identity.Repository
		err  error
	)
	if conf.Database.IsConfigured() {
		if db, err = database.Open(context.Background(), conf); err != nil {
			logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
		}
		defer func() { _ = db.Close() }()
		repo = sqlxrepos.NewIdentityRepository(db)
	} else {
		logger.Warn("no database configured: using in-memory storage")
		repo = inmemdb.NewIdentityRepository()
	}

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	identity.InitValidators(validate, translator)

	svc := identity.NewService(identity.ServiceDeps{
		Repo:     repo,
		Lockout:  identity.NewMemoryLockout(conf.OTP.MaxAttempts, conf.OTP.Cooldown),
		MailSvc:  emailsvc.NewConsoleService(conf, logger),
		Sessions: session.NewIssuer(conf),
		Logger:   logger,
		Conf:     conf,
		Validate: validate,
	})

	// start CLI
	cli := commandLine{db: db, svc: svc}
	if err = cli.run(os.Args); err != nil {
		if err != errHelp {
			fmt.Printf("\nerror: %v\n", core.TranslateValidationErrors(err, translator))
		}
		if db != nil {
			_ = db.Close()
		}
		os.Exit(1)
	}
}
