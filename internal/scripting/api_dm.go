package scripting

import (
	"context"
	"errors"
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/notepid/twilight_dm/internal/dm"
	"github.com/notepid/twilight_dm/internal/message"
	"github.com/notepid/twilight_dm/internal/user"
)

// DMAPI exposes direct messaging to Lua. Every call acts as the user
// chosen with dm.as(username).
type DMAPI struct {
	deps  dm.Deps
	users *user.Repo

	me   *user.User
	sess *dm.Session
}

// NewDMAPI creates a Lua DM API.
func NewDMAPI(deps dm.Deps, users *user.Repo) *DMAPI {
	return &DMAPI{deps: deps, users: users}
}

// Register installs the dm module in the VM.
func (api *DMAPI) Register(vm *VM) {
	vm.RegisterModule("dm", map[string]lua.LGFunction{
		"as":            api.luaAs,
		"conversations": api.luaConversations,
		"open_with":     api.luaOpenWith,
		"send":          api.luaSend,
		"thread":        api.luaThread,
		"mark_read":     api.luaMarkRead,
		"unread":        api.luaUnread,
	})
}

// Close releases the acting user's session.
func (api *DMAPI) Close() {
	if api.sess != nil {
		api.sess.Close()
		api.sess = nil
	}
}

var errNoActingUser = errors.New("no acting user (call dm.as first)")

func (api *DMAPI) session() (*dm.Session, error) {
	if api.sess == nil {
		return nil, errNoActingUser
	}
	return api.sess, nil
}

func (api *DMAPI) luaAs(L *lua.LState) int {
	ctx := luaContext(L)
	u, err := api.users.GetByUsername(ctx, L.CheckString(1))
	if err != nil {
		return pushResult(L, nil, err)
	}
	api.Close()
	api.me = u
	api.sess = dm.NewSession(context.Background(), u.ID, api.deps)
	return pushResult(L, lua.LTrue, nil)
}

func (api *DMAPI) luaConversations(L *lua.LState) int {
	sess, err := api.session()
	if err != nil {
		return pushResult(L, nil, err)
	}
	views, err := sess.Directory.Load(luaContext(L), sess.UserID)
	if err != nil {
		return pushResult(L, nil, err)
	}
	tbl := L.NewTable()
	for i, v := range views {
		row := L.NewTable()
		row.RawSetString("id", lua.LString(v.Conversation.ID))
		row.RawSetString("with", lua.LString(v.Other.Username))
		row.RawSetString("with_name", lua.LString(v.Name()))
		row.RawSetString("unread", lua.LNumber(v.Unread))
		row.RawSetString("last_at", lua.LString(v.RecencyAt().Format("2006-01-02 15:04:05")))
		if v.LastMessage != nil {
			row.RawSetString("last", lua.LString(v.LastMessage.Content))
		}
		tbl.RawSetInt(i+1, row)
	}
	return pushResult(L, tbl, nil)
}

func (api *DMAPI) luaOpenWith(L *lua.LState) int {
	username := L.CheckString(1)
	create := L.OptBool(2, true)

	sess, err := api.session()
	if err != nil {
		return pushResult(L, nil, err)
	}
	ctx := luaContext(L)
	other, err := api.users.GetByUsername(ctx, username)
	if errors.Is(err, user.ErrNotFound) {
		return pushResult(L, nil, dm.ErrUnknownUser)
	}
	if err != nil {
		return pushResult(L, nil, err)
	}
	id, err := sess.Opener.OpenWith(ctx, sess.UserID, other.ID, dm.OpenOptions{CreateIfMissing: create})
	if err != nil {
		return pushResult(L, nil, err)
	}
	return pushResult(L, lua.LString(id), nil)
}

func (api *DMAPI) luaSend(L *lua.LState) int {
	convID := L.CheckString(1)
	text := L.CheckString(2)

	sess, err := api.session()
	if err != nil {
		return pushResult(L, nil, err)
	}
	ctx := luaContext(L)
	conv, err := api.conversation(ctx, convID)
	if err != nil {
		return pushResult(L, nil, err)
	}
	other, _ := conv.Other(sess.UserID)
	m, err := sess.Composer.Send(ctx, conv.ID, sess.UserID, other, text)
	if err != nil {
		return pushResult(L, nil, err)
	}
	return pushResult(L, lua.LString(m.ID), nil)
}

// luaThread lists a conversation's messages without marking them read.
func (api *DMAPI) luaThread(L *lua.LState) int {
	convID := L.CheckString(1)
	ctx := luaContext(L)
	conv, err := api.conversation(ctx, convID)
	if err != nil {
		return pushResult(L, nil, err)
	}
	msgs, err := api.deps.Store.ListMessages(ctx, conv.ID)
	if err != nil {
		return pushResult(L, nil, err)
	}
	tbl := L.NewTable()
	for i, m := range msgs {
		tbl.RawSetInt(i+1, api.messageToTable(L, m))
	}
	return pushResult(L, tbl, nil)
}

func (api *DMAPI) luaMarkRead(L *lua.LState) int {
	convID := L.CheckString(1)
	ctx := luaContext(L)
	conv, err := api.conversation(ctx, convID)
	if err != nil {
		return pushResult(L, nil, err)
	}
	n, err := api.deps.Store.MarkRead(ctx, conv.ID, api.me.ID)
	if err != nil {
		return pushResult(L, nil, err)
	}
	return pushResult(L, lua.LNumber(n), nil)
}

func (api *DMAPI) luaUnread(L *lua.LState) int {
	sess, err := api.session()
	if err != nil {
		return pushResult(L, nil, err)
	}
	views, err := sess.Directory.Load(luaContext(L), sess.UserID)
	if err != nil {
		return pushResult(L, nil, err)
	}
	return pushResult(L, lua.LNumber(dm.TotalUnread(views)), nil)
}

// conversation loads id and checks the acting user takes part in it.
func (api *DMAPI) conversation(ctx context.Context, id string) (*message.Conversation, error) {
	if api.me == nil {
		return nil, errNoActingUser
	}
	conv, err := api.deps.Store.GetConversation(ctx, id)
	if errors.Is(err, message.ErrNotFound) || (err == nil && !conv.Has(api.me.ID)) {
		return nil, dm.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

func (api *DMAPI) messageToTable(L *lua.LState, m *message.Message) *lua.LTable {
	tbl := L.NewTable()
	tbl.RawSetString("id", lua.LString(m.ID))
	tbl.RawSetString("from", lua.LString(m.SenderID))
	tbl.RawSetString("to", lua.LString(m.RecipientID))
	tbl.RawSetString("mine", lua.LBool(m.SenderID == api.me.ID))
	tbl.RawSetString("content", lua.LString(m.Content))
	tbl.RawSetString("created", lua.LString(m.CreatedAt.Format("2006-01-02 15:04:05")))
	tbl.RawSetString("read", lua.LBool(m.ReadAt != nil))
	return tbl
}
