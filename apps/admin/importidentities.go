package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/identity"
)

var identityColumns = []string{"role", "registration_number", "student_number", "email", "full_name", "department"}

// importIdentities creates the identities listed in a CSV file, in a single transaction when a database is used.
func (cli *commandLine) importIdentities(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "opening identities file")
	}
	defer func() { _ = f.Close() }()

	ids, err := parseIdentities(f)
	if err != nil {
		return err
	}

	ctx := context.Background()
	var n int
	if cli.db == nil {
		n, err = cli.svc.ImportIdentities(ctx, ids)
	} else {
		n, err = cli.importInTx(ctx, ids)
	}
	if err != nil {
		return err
	}
	fmt.Printf("Imported %d of %d identities.\n", n, len(ids))
	return nil
}

func (cli *commandLine) importInTx(ctx context.Context, ids []identity.UserIdentity) (int, error) {
	tx, err := cli.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "beginning transaction")
	}
	var dbtx core.DBTransactor = tx

	n, err := cli.svc.ImportIdentities(ctx, ids, dbtx)
	if err != nil {
		_ = dbtx.Rollback()
		return 0, err
	}
	if err = dbtx.Commit(); err != nil {
		return 0, errors.Wrap(err, "committing identities")
	}
	return n, nil
}

// parseIdentities reads identities from CSV with a header row naming identityColumns in any order.
func parseIdentities(r io.Reader) ([]identity.UserIdentity, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, errors.Wrap(err, "reading header")
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range []string{"role", "email", "full_name"} {
		if _, ok := cols[name]; !ok {
			return nil, errors.Errorf("missing %q column; expected %s", name, strings.Join(identityColumns, ","))
		}
	}

	get := func(rec []string, name string) string {
		if i, ok := cols[name]; ok && i < len(rec) {
			return rec[i]
		}
		return ""
	}

	var ids []identity.UserIdentity
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "reading line %d", line)
		}
		ids = append(ids, identity.UserIdentity{
			Role:               identity.Role(strings.ToLower(core.CleanString(get(rec, "role")))),
			RegistrationNumber: get(rec, "registration_number"),
			StudentNumber:      get(rec, "student_number"),
			Email:              get(rec, "email"),
			FullName:           get(rec, "full_name"),
			Department:         get(rec, "department"),
		})
	}
	return ids, nil
}
