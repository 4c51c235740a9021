package main

import (
	"context"
	"errors"

	"github.com/trezcool/campus/storage/database"
)

var errNoDatabase = errors.New("no database configured")

func (cli *commandLine) migrate(args []string) error {
	if cli.db == nil {
		return errNoDatabase
	}
	return database.RunMigrations(context.Background(), cli.db, args[0], args[1:]...)
}
