package sandbox

import (
	"context"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// LuaBackend 在进程内受限的 Lua 虚拟机中执行代码。每次执行使用新的 LState。
type LuaBackend struct{}

func NewLuaBackend() *LuaBackend { return &LuaBackend{} }

func (l *LuaBackend) Name() string { return "lua" }

func (l *LuaBackend) Execute(ctx context.Context, req *Request, opts Options) (*Result, error) {
	L := lua.NewState(lua.Options{
		SkipOpenLibs: true,
	})
	defer L.Close()
	L.SetContext(ctx)

	var stdout strings.Builder
	openSafeLibs(L, &stdout)

	result := &Result{}
	if err := L.DoString(req.Code); err != nil {
		result.Stdout = stdout.String()
		result.ExitCode = 1
		if ctx.Err() != nil {
			result.Error = "execution timeout"
		} else {
			result.Stderr = err.Error()
		}
		return result, nil
	}
	result.Stdout = stdout.String()
	result.Success = true
	return result, nil
}

func (l *LuaBackend) Cleanup() error { return nil }

// openSafeLibs 只加载无副作用的标准库，print 输出写入 out。
func openSafeLibs(L *lua.LState, out *strings.Builder) {
	lua.OpenBase(L)
	for _, name := range []string{"loadfile", "dofile", "load", "loadstring", "require", "collectgarbage"} {
		L.SetGlobal(name, lua.LNil)
	}
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		n := L.GetTop()
		parts := make([]string, 0, n)
		for i := 1; i <= n; i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		out.WriteString(strings.Join(parts, "\t"))
		out.WriteString("\n")
		return 0
	}))
}
