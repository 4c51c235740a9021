package main

import (
	"context"
	"fmt"
)

func (cli *commandLine) resetPassword(identifier, pwd string) error {
	cred, err := cli.svc.SetPassword(context.Background(), identifier, pwd)
	if err != nil {
		return err
	}
	fmt.Printf("Password of %s has been reset.\n", cred.Email)
	return nil
}
