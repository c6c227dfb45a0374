package inmemdb

import (
	"sync"

	"github.com/trezcool/ieltstutor/core/user"
)

type (
	// DB keeps rows in memory. Used by tests and by the API when no database is configured.
	DB struct {
		user *userTable
	}

	userTable struct {
		sync.RWMutex
		table map[string]*user.User
	}
)

func Open() *DB {
	return &DB{
		user: &userTable{table: make(map[string]*user.User)},
	}
}
