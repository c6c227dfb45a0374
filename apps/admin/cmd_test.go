package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/ieltstutor/core"
	"github.com/trezcool/ieltstutor/core/persona"
	"github.com/trezcool/ieltstutor/core/user"
	"github.com/trezcool/ieltstutor/storage/database/inmem"
	"github.com/trezcool/ieltstutor/tests"
)

type nopMailer struct{}

func (nopMailer) SendMessages(...*core.EmailMessage) {}

func setup(t *testing.T) (*commandLine, user.Repository) {
	repo := inmemdb.NewUserRepository(inmemdb.Open())
	return &commandLine{
		usrRepo: repo,
		usrSvc:  user.NewServiceMock(repo, nopMailer{}, core.NewTestConfig()),
	}, repo
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	extra      interface{}
}

func checkErr(t *testing.T, tt cliTest, err error) {
	t.Helper()
	switch {
	case tt.wantErr != nil:
		assert.Equal(t, tt.wantErr, err)
	case tt.wantErrStr != "":
		if assert.Error(t, err) {
			assert.Equal(t, tt.wantErrStr, err.Error())
		}
	default:
		assert.NoError(t, err)
	}
}

func mockPassword(pwd string) {
	readPasswordFunc = func(fd int) ([]byte, error) {
		return []byte(pwd), nil
	}
}

func Test_commandLine_migrate(t *testing.T) {
	cli, _ := setup(t)

	var gotDir string
	gooseRunFunc = func(command string, db *sql.DB, fsys fs.FS, dir string, args ...string) error {
		gotDir = dir
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s must be of form: goose [OPTIONS] DRIVER DBSTRING %s VERSION", command, command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-by-one", args: []string{"migrate", "up-by-one"}},
		{name: "up-to", args: []string{"migrate", "up-to", "1"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "down-to", args: []string{"migrate", "down-to", "0"}},
		{name: "redo", args: []string{"migrate", "redo"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "version", args: []string{"migrate", "version"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			checkErr(t, tt, cli.run(args))
		})
	}
	assert.Equal(t, "migrations", gotDir)
}

func Test_commandLine_addUser(t *testing.T) {
	cli, repo := setup(t)
	existing := testutil.CreateUser(t, repo, "Old Name", "old@test.io", "0ld#Passw0rd", user.RoleStudent, false)

	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "no args", args: []string{"adduser"}, wantErr: errHelp},
		{name: "bad flag", args: []string{"adduser", "-lol"}, wantErr: errHelp},
		{name: "unknown role", args: []string{"adduser", "-name", "Ada", "-email", "ada@test.io", "-role", "principal"}, extra: "pwd", wantErr: errHelp},
		{name: "no password", args: []string{"adduser", "-name", "Ada", "-email", "ada@test.io"}, wantErr: errHelp},
		{name: "create admin", args: []string{"adduser", "-name", "Ada", "-email", " ADA@test.io "}, extra: "Adm1n#Pass"},
		{name: "update existing", args: []string{"adduser", "-name", "New Name", "-email", "old@test.io", "-role", "teacher"}, extra: "N3w#Passw0rd"},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)
		pwd, _ := tt.extra.(string)
		mockPassword(pwd)

		t.Run(tt.name, func(t *testing.T) {
			checkErr(t, tt, cli.run(args))
		})
	}

	ctx := context.Background()
	ada, err := repo.GetUserByEmail(ctx, "ada@test.io")
	require.NoError(t, err)
	assert.Equal(t, user.RoleAdmin, ada.Role)
	assert.True(t, ada.IsActive)
	assert.NoError(t, ada.CheckPassword("Adm1n#Pass"))

	updated, err := repo.GetUserByID(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, "New Name", updated.Name)
	assert.Equal(t, user.RoleTeacher, updated.Role)
	assert.True(t, updated.IsActive)
	assert.NoError(t, updated.CheckPassword("N3w#Passw0rd"))
}

func Test_commandLine_resetPassword(t *testing.T) {
	cli, repo := setup(t)
	usr := testutil.CreateUser(t, repo, "User", "awe@test.cd", "0ld#Passw0rd", user.RoleStudent, true)

	tests := []cliTest{
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "email but no password", args: []string{"resetpassword", "-email", "lol@test.cd"}, wantErr: errHelp},
		{name: "user not found", args: []string{"resetpassword", "-email", "lol@test.cd"}, extra: "lol", wantErr: user.ErrNotFound},
		{name: "reset", args: []string{"resetpassword", "-email", "AWE@test.cd"}, extra: "N3w#Passw0rd"},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)
		pwd, _ := tt.extra.(string)
		mockPassword(pwd)

		t.Run(tt.name, func(t *testing.T) {
			checkErr(t, tt, cli.run(args))
		})
	}

	refreshed, err := repo.GetUserByID(context.Background(), usr.ID)
	require.NoError(t, err)
	assert.False(t, bytes.Equal(refreshed.PasswordHash, usr.PasswordHash), "failed to update new password")
	assert.NoError(t, refreshed.CheckPassword("N3w#Passw0rd"))
}

func Test_commandLine_seed(t *testing.T) {
	cli, repo := setup(t)
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, cli.seed(&out))
	assert.Contains(t, out.String(), "admin: created admin@ieltstutor.dev")

	for _, k := range persona.Keys() {
		f := k.Fixture()
		usr, err := repo.GetUserByID(ctx, f.ID)
		require.NoError(t, err)
		assert.Equal(t, f.Email, usr.Email)
		assert.Equal(t, f.Role, usr.Role)
		assert.NoError(t, usr.CheckPassword(persona.DemoPassword))
	}

	// idempotent
	out.Reset()
	require.NoError(t, cli.seed(&out))
	assert.Contains(t, out.String(), "student: student@ieltstutor.dev already exists")
}
