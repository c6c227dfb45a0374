package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/trezcool/ieltstutor/client"
	"github.com/trezcool/ieltstutor/client/auth"
	"github.com/trezcool/ieltstutor/core"
	"github.com/trezcool/ieltstutor/core/persona"
	"github.com/trezcool/ieltstutor/core/session"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	api *client.Client
	mgr *auth.Manager
	out io.Writer
}

// newCommandLine wires the request client to the session manager through a bridge.
// The session snapshot and the refresh cookie are both kept in storage.
func newCommandLine(conf core.ClientConfig, storage session.Storage, logger core.Logger, out io.Writer) (*commandLine, error) {
	jar, err := client.NewPersistentJar(storage)
	if err != nil {
		return nil, err
	}
	httpClient, err := client.NewHTTPClient(jar, conf.Timeout)
	if err != nil {
		return nil, err
	}

	bridge := client.NewBridge()
	api, err := client.New(client.Options{
		BaseURL:            conf.APIBaseURL,
		HTTPClient:         httpClient,
		Authorizer:         bridge,
		Storage:            storage,
		DevPersonaFallback: conf.DevPersonaFallback,
		Logger:             logger,
	})
	if err != nil {
		return nil, err
	}
	mgr, err := auth.NewManager(auth.Options{
		API:                api,
		Storage:            storage,
		Bridge:             bridge,
		DevPersonaFallback: conf.DevPersonaFallback,
		Logger:             logger,
	})
	if err != nil {
		return nil, err
	}
	return &commandLine{api: api, mgr: mgr, out: out}, nil
}

func (cli *commandLine) close() {
	cli.mgr.Close()
}

func (cli *commandLine) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(cli.out, format, args...)
}

func (cli *commandLine) printUsage() {
	cli.printf("Usage:\n")
	cli.printf("  login -email EMAIL - sign in (the password is prompted)\n")
	cli.printf("  register -name NAME -email EMAIL -role teacher|student - create an account and sign in\n")
	cli.printf("  google [-returnTo URL] [-complete] - start (or complete) a Google sign-in\n")
	cli.printf("  logout - sign out\n")
	cli.printf("  whoami - show the current user\n")
	cli.printf("  viewas ROLE - as the admin persona, act as another role\n")
	cli.printf("  stopviewas - stop acting as another role\n")
	cli.printf("  get PATH - send an authorized GET request, e.g. `get /users/me`\n")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loginCmd := flag.NewFlagSet("login", flag.ContinueOnError)
	loginEmail := loginCmd.String("email", "", "Your email. The password will be prompted next.")

	registerCmd := flag.NewFlagSet("register", flag.ContinueOnError)
	registerName := registerCmd.String("name", "", "Your full name.")
	registerEmail := registerCmd.String("email", "", "Your email. The password will be prompted next.")
	registerRole := registerCmd.String("role", string(persona.Student), "teacher or student.")

	googleCmd := flag.NewFlagSet("google", flag.ContinueOnError)
	googleReturnTo := googleCmd.String("returnTo", "", "Where the browser lands after signing in.")
	googleComplete := googleCmd.Bool("complete", false, "Pick up the session once the browser sign-in is done.")

	switch args[1] {
	case "login":
		if err := loginCmd.Parse(args[2:]); err != nil || *loginEmail == "" {
			loginCmd.Usage()
			return errHelp
		}
		pwd, err := promptPassword(cli.out)
		if err != nil {
			return err
		}
		return cli.login(ctx, *loginEmail, pwd)
	case "register":
		if err := registerCmd.Parse(args[2:]); err != nil || *registerName == "" || *registerEmail == "" {
			registerCmd.Usage()
			return errHelp
		}
		pwd, err := promptPassword(cli.out)
		if err != nil {
			return err
		}
		return cli.register(ctx, auth.RegisterPayload{FullName: *registerName, Email: *registerEmail, Password: pwd, Role: *registerRole})
	case "google":
		if err := googleCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		return cli.google(ctx, *googleReturnTo, *googleComplete)
	case "logout":
		cli.mgr.Logout(ctx)
		cli.printf("signed out\n")
		return nil
	case "whoami":
		cli.whoami()
		return nil
	case "viewas":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.viewAs(args[2])
	case "stopviewas":
		if !cli.mgr.StopImpersonating() {
			cli.printf("not viewing as another role\n")
			return nil
		}
		cli.whoami()
		return nil
	case "get":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.get(ctx, args[2])
	default:
		cli.printUsage()
		return errHelp
	}
}

func promptPassword(out io.Writer) (string, error) {
	_, _ = fmt.Fprint(out, "Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	_, _ = fmt.Fprintln(out)
	if err != nil {
		return "", err
	}
	return string(pwd), nil
}
