package script

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Shopify/go-lua"

	"github.com/petrijr/docroute/pkg/api"
)

type (
	// LuaEnv compiles Lua sources to bytecode once and runs them on pooled
	// interpreter states inside a sandbox without io, os or loaders.
	LuaEnv struct {
		cache     *lruCache[*compiledLua]
		statePool chan *lua.State
	}

	compiledLua struct {
		bytecode []byte
		argNames []string
	}
)

const (
	luaCacheSize        = 1024
	luaStatePoolSize    = 10
	luaGlobalTableIndex = -2
	luaArgLocalTemplate = "local %s = select(%d, ...)"
	luaGlobalTableName  = "_G"
	luaSeparator        = "\n"
)

var (
	ErrLuaLoad      = errors.New("lua load error")
	ErrLuaExecution = errors.New("lua execution error")
)

var luaExclude = [...]string{
	"io", "os", "debug", "package", "require", "dofile", "loadfile", "load",
}

var luaKeywords = map[string]struct{}{
	"and": {}, "break": {}, "do": {}, "else": {}, "elseif": {}, "end": {},
	"false": {}, "for": {}, "function": {}, "goto": {}, "if": {}, "in": {},
	"local": {}, "nil": {}, "not": {}, "or": {}, "repeat": {}, "return": {},
	"then": {}, "true": {}, "until": {}, "while": {},
}

// NewLuaEnv creates a Lua execution environment with a state pool.
func NewLuaEnv() *LuaEnv {
	return &LuaEnv{
		cache:     newLRUCache[*compiledLua](luaCacheSize),
		statePool: make(chan *lua.State, luaStatePoolSize),
	}
}

// Call runs src with bindings available as locals and passes the single
// result, left on top of the stack, to onResult. Bindings whose names are
// not Lua identifiers are not bound.
func (e *LuaEnv) Call(src string, bindings api.Variables, onResult func(L *lua.State) error) error {
	argNames := bindableNames(bindings)
	proc, err := e.cache.Get(cacheKey(src, argNames), func() (*compiledLua, error) {
		return e.compile(wrapSource(src, argNames), argNames)
	})
	if err != nil {
		return err
	}

	L := e.getState()
	defer e.returnState(L)

	setupSandbox(L)
	if err := L.Load(bytes.NewReader(proc.bytecode), "chunk", "b"); err != nil {
		return fmt.Errorf("%w: %w", ErrLuaLoad, err)
	}
	for _, name := range proc.argNames {
		goToLua(L, bindings[name])
	}
	if err := L.ProtectedCall(len(proc.argNames), 1, 0); err != nil {
		return fmt.Errorf("%w: %w", ErrLuaExecution, err)
	}
	return onResult(L)
}

// Validate compiles src without running it.
func (e *LuaEnv) Validate(src string) error {
	_, err := e.compile(src, nil)
	return err
}

func (e *LuaEnv) compile(src string, argNames []string) (*compiledLua, error) {
	L := lua.NewState()
	setupSandbox(L)

	if err := lua.LoadString(L, src); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLuaLoad, err)
	}

	var buf bytes.Buffer
	if err := L.Dump(&buf); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLuaLoad, err)
	}
	return &compiledLua{
		bytecode: buf.Bytes(),
		argNames: argNames,
	}, nil
}

func (e *LuaEnv) getState() *lua.State {
	select {
	case L := <-e.statePool:
		return L
	default:
		return lua.NewState()
	}
}

func (e *LuaEnv) returnState(L *lua.State) {
	L.SetTop(0)

	select {
	case e.statePool <- L:
	default:
	}
}

func setupSandbox(L *lua.State) {
	lua.OpenLibraries(L)
	L.Global(luaGlobalTableName)
	for _, name := range luaExclude {
		L.PushNil()
		L.SetField(luaGlobalTableIndex, name)
	}
	L.Pop(1)
}

func wrapSource(src string, argNames []string) string {
	lines := make([]string, 0, len(argNames)+1)
	for i, name := range argNames {
		lines = append(lines, fmt.Sprintf(luaArgLocalTemplate, name, i+1))
	}
	lines = append(lines, src)
	return strings.Join(lines, luaSeparator)
}

func cacheKey(src string, argNames []string) string {
	h := sha256.New()
	_, _ = h.Write([]byte(src))
	for _, name := range argNames {
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(name))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func bindableNames(bindings api.Variables) []string {
	names := make([]string, 0, len(bindings))
	for name := range bindings {
		if isLuaIdentifier(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func isLuaIdentifier(name string) bool {
	if name == "" {
		return false
	}
	if _, kw := luaKeywords[name]; kw {
		return false
	}
	for i, c := range name {
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// goToLua pushes a variable value. Dates become RFC 3339 strings and
// document references become {repository=..., id=...} tables.
func goToLua(L *lua.State, value any) {
	switch v := value.(type) {
	case nil:
		L.PushNil()
	case string:
		L.PushString(v)
	case bool:
		L.PushBoolean(v)
	case float64:
		L.PushNumber(v)
	case int:
		L.PushInteger(v)
	case int64:
		L.PushNumber(float64(v))
	case time.Time:
		L.PushString(v.UTC().Format(time.RFC3339))
	case api.DocumentRef:
		pushDocument(L, v)
	case []api.DocumentRef:
		L.CreateTable(len(v), 0)
		for i, d := range v {
			L.PushInteger(i + 1)
			pushDocument(L, d)
			L.SetTable(-3)
		}
	case []any:
		L.CreateTable(len(v), 0)
		for i, item := range v {
			L.PushInteger(i + 1)
			goToLua(L, item)
			L.SetTable(-3)
		}
	case map[string]any:
		L.CreateTable(0, len(v))
		for k, item := range v {
			goToLua(L, item)
			L.SetField(-2, k)
		}
	default:
		L.PushString(fmt.Sprintf("%v", v))
	}
}

func pushDocument(L *lua.State, d api.DocumentRef) {
	L.CreateTable(0, 2)
	L.PushString(d.Repository)
	L.SetField(-2, "repository")
	L.PushString(d.ID)
	L.SetField(-2, "id")
}

func luaToGo(L *lua.State, index int) any {
	switch L.TypeOf(index) {
	case lua.TypeBoolean:
		return L.ToBoolean(index)
	case lua.TypeNumber:
		n, _ := L.ToNumber(index)
		return n
	case lua.TypeString:
		s, _ := L.ToString(index)
		return s
	case lua.TypeTable:
		return luaTableToAny(L, index)
	default:
		return nil
	}
}

func typeName(L *lua.State, index int) string {
	switch L.TypeOf(index) {
	case lua.TypeNil:
		return "nil"
	case lua.TypeBoolean:
		return "boolean"
	case lua.TypeNumber:
		return "number"
	case lua.TypeString:
		return "string"
	case lua.TypeTable:
		return "table"
	case lua.TypeFunction:
		return "function"
	default:
		return "userdata"
	}
}

func absIndex(L *lua.State, index int) int {
	if index < 0 {
		return L.Top() + index + 1
	}
	return index
}

// luaTableToMap converts the string-keyed entries of a table.
func luaTableToMap(L *lua.State, index int) map[string]any {
	idx := absIndex(L, index)
	out := map[string]any{}
	L.PushNil()
	for L.Next(idx) {
		if L.TypeOf(-2) == lua.TypeString {
			key, _ := L.ToString(-2)
			out[key] = luaToGo(L, -1)
		}
		L.Pop(1)
	}
	return out
}

func luaTableToAny(L *lua.State, index int) any {
	idx := absIndex(L, index)
	length := 0
	isArray := true
	L.PushNil()
	for L.Next(idx) {
		if L.TypeOf(-2) != lua.TypeNumber {
			isArray = false
		}
		length++
		L.Pop(1)
	}
	if !isArray || length == 0 {
		return luaTableToMap(L, idx)
	}

	arr := make([]any, length)
	for i := 1; i <= length; i++ {
		L.RawGetInt(idx, i)
		arr[i-1] = luaToGo(L, -1)
		L.Pop(1)
	}
	return arr
}
