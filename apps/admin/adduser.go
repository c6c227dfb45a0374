package main

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/ieltstutor/core"
	"github.com/trezcool/ieltstutor/core/user"
)

// addUser updates or creates a user.User. Admins bypass the password policy.
func (cli *commandLine) addUser(name, email, role, pwd string) error {
	ctx := context.Background()
	email = core.CleanString(email, true /* lower */)

	usr, err := cli.usrRepo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Cause(err) != user.ErrNotFound {
			return err
		}
		_, err = cli.usrSvc.Create(ctx, user.NewUser{FullName: core.CleanString(name), Email: email, Password: pwd, Role: role})
		return err
	}

	usr.Name = core.CleanString(name)
	usr.Role = role
	usr.IsActive = true
	usr.UpdatedAt = time.Now().UTC()
	if err = usr.SetPassword(pwd); err != nil {
		return err
	}
	_, err = cli.usrRepo.UpdateUser(ctx, usr)
	return err
}
