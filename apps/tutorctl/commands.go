package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"github.com/trezcool/ieltstutor/client"
	"github.com/trezcool/ieltstutor/client/auth"
	"github.com/trezcool/ieltstutor/core/persona"
	"github.com/trezcool/ieltstutor/core/session"
)

var errLoginFailed = errors.New("login failed: check your email and password")

func (cli *commandLine) login(ctx context.Context, email, pwd string) error {
	mode, err := cli.mgr.Login(ctx, email, pwd)
	if err != nil {
		return err
	}
	switch mode {
	case session.ModeLive:
		cli.whoami()
	case session.ModePersona:
		cli.printf("backend login failed, using the demo persona\n")
		cli.whoami()
	default:
		return errLoginFailed
	}
	return nil
}

func (cli *commandLine) register(ctx context.Context, payload auth.RegisterPayload) error {
	if _, err := cli.mgr.Register(ctx, payload); err != nil {
		if apiErr, ok := client.AsAPIError(err); ok && len(apiErr.Fields()) > 0 {
			cli.printFields(apiErr.Fields())
		}
		return err
	}
	cli.whoami()
	return nil
}

func (cli *commandLine) google(ctx context.Context, returnTo string, complete bool) error {
	if complete {
		if _, err := cli.mgr.CompleteGoogleLogin(ctx); err != nil {
			return err
		}
		cli.whoami()
		return nil
	}

	authURL, err := cli.mgr.LoginWithGoogle(ctx, returnTo)
	if err != nil {
		return err
	}
	cli.printf("Open this URL to sign in with Google:\n  %s\n", authURL)
	return nil
}

func (cli *commandLine) whoami() {
	usr, ok := cli.mgr.CurrentUser()
	if !ok {
		cli.printf("not signed in\n")
		return
	}
	cli.printf("%s <%s> as %s (%s session)\n", usr.Name, usr.Email, usr.Role, usr.Mode)
	if usr.Impersonating {
		cli.printf("viewing as %s, signed in as %s\n", usr.Role, usr.BaseRole)
	}
}

func (cli *commandLine) viewAs(role string) error {
	k, ok := persona.Parse(role)
	if !ok {
		return fmt.Errorf("unknown role %q", role)
	}
	if !cli.mgr.ViewAs(k) {
		cli.printf("only the admin persona can view as another role\n")
		return nil
	}
	cli.whoami()
	return nil
}

func (cli *commandLine) get(ctx context.Context, path string) error {
	var res json.RawMessage
	if err := cli.api.Get(ctx, path, &res); err != nil {
		return err
	}
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return errors.Wrap(err, "formatting response")
	}
	cli.printf("%s\n", data)
	return nil
}

func (cli *commandLine) printFields(fields map[string]string) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cli.printf("  %s: %s\n", name, fields[name])
	}
}
