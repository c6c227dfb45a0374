package main

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"

	"github.com/trezcool/ieltstutor/core/persona"
	"github.com/trezcool/ieltstutor/core/user"
)

// seed creates one account per persona, with the persona's fixed ID and the demo password,
// so that live login works with the demo credentials. Existing accounts are left alone.
func (cli *commandLine) seed(out io.Writer) error {
	ctx := context.Background()
	for _, k := range persona.Keys() {
		f := k.Fixture()
		if _, err := cli.usrRepo.GetUserByID(ctx, f.ID); err == nil {
			_, _ = fmt.Fprintf(out, "%s: %s already exists\n", k, f.Email)
			continue
		} else if errors.Cause(err) != user.ErrNotFound {
			return errors.Wrapf(err, "finding persona %s", k)
		}

		nu := user.NewUser{ID: f.ID, FullName: f.Name, Email: f.Email, Password: persona.DemoPassword, Role: f.Role}
		if _, err := cli.usrSvc.Create(ctx, nu); err != nil {
			return errors.Wrapf(err, "creating persona %s", k)
		}
		_, _ = fmt.Fprintf(out, "%s: created %s\n", k, f.Email)
	}
	return nil
}
