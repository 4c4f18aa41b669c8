package scripting

import (
	"context"
	"fmt"
	"log"

	lua "github.com/yuin/gopher-lua"
)

// VM wraps a Lua state used for batch scripts.
type VM struct {
	L *lua.LState
}

// NewVM creates a new Lua VM with the standard libraries loaded.
func NewVM() *VM {
	L := lua.NewState(lua.Options{
		CallStackSize: 120,
		RegistrySize:  120 * 20,
	})
	return &VM{L: L}
}

// Close shuts down the Lua VM.
func (vm *VM) Close() {
	vm.L.Close()
}

// RunFile executes a Lua script file. Cancelling ctx stops the script.
func (vm *VM) RunFile(ctx context.Context, path string) error {
	vm.L.SetContext(ctx)
	defer vm.L.RemoveContext()
	if err := vm.L.DoFile(path); err != nil {
		return fmt.Errorf("run script %s: %w", path, err)
	}
	return nil
}

// RunString executes a chunk of Lua source.
func (vm *VM) RunString(ctx context.Context, src string) error {
	vm.L.SetContext(ctx)
	defer vm.L.RemoveContext()
	if err := vm.L.DoString(src); err != nil {
		return fmt.Errorf("run script: %w", err)
	}
	return nil
}

// RegisterModule registers a table of functions as a global Lua module.
func (vm *VM) RegisterModule(name string, funcs map[string]lua.LGFunction) {
	mod := vm.L.NewTable()
	for fname, fn := range funcs {
		mod.RawSetString(fname, vm.L.NewFunction(fn))
	}
	vm.L.SetGlobal(name, mod)
}

// pushResult follows the Lua convention of returning value, err.
func pushResult(L *lua.LState, v lua.LValue, err error) int {
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(v)
	L.Push(lua.LNil)
	return 2
}

// LogError logs a Lua error with context.
func LogError(context string, err error) {
	if err != nil {
		log.Printf("scripting: lua error [%s]: %v", context, err)
	}
}
