package scripting

import (
	"context"
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/notepid/twilight_dm/internal/user"
)

// UserAPI exposes account administration to Lua.
type UserAPI struct {
	repo *user.Repo
}

// NewUserAPI creates a Lua user API.
func NewUserAPI(repo *user.Repo) *UserAPI {
	return &UserAPI{repo: repo}
}

// Register installs the user module in the VM.
func (api *UserAPI) Register(vm *VM) {
	vm.RegisterModule("user", map[string]lua.LGFunction{
		"create":       api.luaCreate,
		"exists":       api.luaExists,
		"get":          api.luaGet,
		"list":         api.luaList,
		"set_password": api.luaSetPassword,
	})
}

func (api *UserAPI) luaCreate(L *lua.LState) int {
	username := strings.TrimSpace(L.CheckString(1))
	password := L.CheckString(2)
	displayName := strings.TrimSpace(L.OptString(3, ""))

	for _, err := range []error{
		user.ValidateUsername(username),
		user.ValidatePassword(password),
		user.ValidateDisplayName(displayName),
	} {
		if err != nil {
			return pushResult(L, nil, err)
		}
	}

	ctx := luaContext(L)
	if api.repo.Exists(ctx, username) {
		return pushResult(L, nil, fmt.Errorf("username already exists"))
	}
	u, err := api.repo.Create(ctx, username, password, displayName)
	if err != nil {
		return pushResult(L, nil, err)
	}
	return pushResult(L, userToTable(L, u), nil)
}

func (api *UserAPI) luaExists(L *lua.LState) int {
	L.Push(lua.LBool(api.repo.Exists(luaContext(L), L.CheckString(1))))
	return 1
}

func (api *UserAPI) luaGet(L *lua.LState) int {
	u, err := api.repo.GetByUsername(luaContext(L), L.CheckString(1))
	if err != nil {
		return pushResult(L, nil, err)
	}
	return pushResult(L, userToTable(L, u), nil)
}

func (api *UserAPI) luaList(L *lua.LState) int {
	users, err := api.repo.List(luaContext(L))
	if err != nil {
		return pushResult(L, nil, err)
	}
	tbl := L.NewTable()
	for i, u := range users {
		tbl.RawSetInt(i+1, userToTable(L, u))
	}
	return pushResult(L, tbl, nil)
}

func (api *UserAPI) luaSetPassword(L *lua.LState) int {
	ctx := luaContext(L)
	username := L.CheckString(1)
	password := L.CheckString(2)
	if err := user.ValidatePassword(password); err != nil {
		L.Push(lua.LString(err.Error()))
		return 1
	}
	u, err := api.repo.GetByUsername(ctx, username)
	if err == nil {
		err = api.repo.UpdatePassword(ctx, u.ID, password)
	}
	if err != nil {
		L.Push(lua.LString(err.Error()))
		return 1
	}
	L.Push(lua.LNil)
	return 1
}

// userToTable converts a User to a Lua table. The password hash is never
// exposed.
func userToTable(L *lua.LState, u *user.User) *lua.LTable {
	tbl := L.NewTable()
	tbl.RawSetString("id", lua.LString(u.ID))
	tbl.RawSetString("name", lua.LString(u.Username))
	tbl.RawSetString("display_name", lua.LString(u.DisplayName))
	tbl.RawSetString("created", lua.LString(u.CreatedAt.Format("2006-01-02")))
	return tbl
}

func luaContext(L *lua.LState) context.Context {
	if ctx := L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
