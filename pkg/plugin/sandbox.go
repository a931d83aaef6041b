package plugin

import (
	"context"
	"errors"
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"

	"charachat/pkg/domain"
)

const defaultTimeout = 5 * time.Second

// Sandbox executes plugin scripts in an isolated Lua state. Each call gets a
// fresh state with a restricted standard library: no io, os, network or
// coroutine access. A script must define a global run(args) function that
// returns the tool result as a string.
type Sandbox struct {
	timeout time.Duration
}

func NewSandbox(timeout time.Duration) *Sandbox {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Sandbox{timeout: timeout}
}

// Execute runs the script's run function with args and returns its string
// result. Execution is bounded by the sandbox timeout and by ctx.
func (s *Sandbox) Execute(ctx context.Context, code string, args map[string]any) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	L.SetContext(ctx)
	openRestrictedLibs(L)

	if err := L.DoString(code); err != nil {
		return "", execErr(ctx, fmt.Errorf("load script: %w", err))
	}
	run := L.GetGlobal("run")
	if run.Type() != lua.LTFunction {
		return "", fmt.Errorf("%w: script does not define run(args)", domain.ErrPluginExecution)
	}

	if err := L.CallByParam(lua.P{
		Fn:      run,
		NRet:    1,
		Protect: true,
	}, toLuaTable(L, args)); err != nil {
		return "", execErr(ctx, err)
	}
	ret := L.Get(-1)
	L.Pop(1)
	if ret == lua.LNil {
		return "", nil
	}
	return lua.LVAsString(ret), nil
}

// openRestrictedLibs loads only the harmless parts of the Lua standard
// library. Notably absent: io, os, debug, package and coroutine.
func openRestrictedLibs(L *lua.LState) {
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	// base exposes escape hatches the sandbox must not have
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require"} {
		L.SetGlobal(name, lua.LNil)
	}
}

func execErr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrPluginTimeout, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrPluginExecution, err)
}

func toLuaTable(L *lua.LState, args map[string]any) *lua.LTable {
	tbl := L.NewTable()
	for key, value := range args {
		tbl.RawSetString(key, toLuaValue(L, value))
	}
	return tbl
}

// toLuaValue converts decoded JSON values into Lua values. JSON arrays become
// 1-indexed tables.
func toLuaValue(L *lua.LState, value any) lua.LValue {
	switch v := value.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(v)
	case float64:
		return lua.LNumber(v)
	case int:
		return lua.LNumber(v)
	case int64:
		return lua.LNumber(v)
	case string:
		return lua.LString(v)
	case []any:
		tbl := L.NewTable()
		for _, item := range v {
			tbl.Append(toLuaValue(L, item))
		}
		return tbl
	case map[string]any:
		return toLuaTable(L, v)
	default:
		return lua.LString(fmt.Sprintf("%v", v))
	}
}
