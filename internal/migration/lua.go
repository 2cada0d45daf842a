package migration

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Shopify/go-lua"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contractml/internal/model"
)

const (
	scriptExt   = ".lua"
	scriptEntry = "migrate"
)

// LoadDir compiles every <domain>_<from>_to_<to>.lua file in dir into a
// script table. A missing directory yields an empty table; a script that
// fails to compile fails the whole load.
func LoadDir(dir string) (*Scripts, error) {
	table := NewScripts()

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			zap.L().Warn("migration: scripts directory not found", zap.String("path", dir))
			return table, nil
		}
		return nil, eris.Wrapf(err, "migration: read %s", dir)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), scriptExt) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		key, ok := ParseScriptName(name)
		if !ok {
			zap.L().Warn("migration: skipping script with unrecognised name", zap.String("file", name))
			continue
		}
		src, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, eris.Wrapf(err, "migration: read %s", name)
		}
		script, err := CompileLua(name, string(src))
		if err != nil {
			return nil, err
		}
		table.Register(key.Domain, key.From, key.To, script.Run)
		zap.L().Debug("migration: script loaded",
			zap.String("domain", key.Domain),
			zap.String("from", key.From),
			zap.String("to", key.To),
		)
	}

	zap.L().Info("migration: scripts loaded", zap.String("path", dir), zap.Int("count", table.Len()))
	return table, nil
}

// ParseScriptName splits "<domain>_<from>_to_<to>.lua". The domain may
// itself contain underscores; the from version may not.
func ParseScriptName(name string) (ScriptKey, bool) {
	base := strings.TrimSuffix(name, scriptExt)
	idx := strings.LastIndex(base, "_to_")
	if idx <= 0 {
		return ScriptKey{}, false
	}
	head, to := base[:idx], base[idx+len("_to_"):]
	sep := strings.LastIndex(head, "_")
	if sep <= 0 || sep == len(head)-1 || to == "" {
		return ScriptKey{}, false
	}
	return ScriptKey{Domain: head[:sep], From: head[sep+1:], To: to}, true
}

// LuaScript is a compiled migration script. Each run uses a Lua state from
// a pool; states that raised an error or were interrupted are discarded.
type LuaScript struct {
	name   string
	source string
	pool   sync.Pool
}

// CompileLua loads source once to check that it parses and defines a
// global migrate function.
func CompileLua(name, source string) (*LuaScript, error) {
	s := &LuaScript{name: name, source: source}
	l, err := s.newState()
	if err != nil {
		return nil, err
	}
	s.pool.Put(l)
	return s, nil
}

func (s *LuaScript) newState() (*lua.State, error) {
	l := lua.NewState()
	lua.OpenLibraries(l)
	if err := lua.LoadBuffer(l, s.source, s.name, ""); err != nil {
		return nil, eris.Wrapf(err, "migration: compile %s", s.name)
	}
	if err := l.ProtectedCall(0, 0, 0); err != nil {
		return nil, eris.Wrapf(err, "migration: init %s", s.name)
	}
	l.Global(scriptEntry)
	isFn := l.IsFunction(-1)
	l.Pop(1)
	if !isFn {
		return nil, eris.Errorf("migration: %s does not define a %s function", s.name, scriptEntry)
	}
	return l, nil
}

const (
	// maxDepth bounds table nesting in both directions of a call.
	maxDepth = 32
	// hookInstructions is how often a running script checks ctx.
	hookInstructions = 1000
	// defaultScriptTimeout applies when the caller's ctx has no deadline.
	defaultScriptTimeout = 5 * time.Second
)

// Run calls migrate(data) and converts the returned table back into a
// payload. Lua numbers come back as float64. The script is interrupted
// once ctx is done.
func (s *LuaScript) Run(ctx context.Context, in model.Payload) (out model.Payload, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultScriptTimeout)
		defer cancel()
	}

	l, _ := s.pool.Get().(*lua.State)
	if l == nil {
		if l, err = s.newState(); err != nil {
			return nil, err
		}
	}

	// A state is only pooled again after a clean run.
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, eris.Errorf("migration: %s panicked: %v", s.name, r)
		}
		if err == nil {
			l.SetTop(0)
			s.pool.Put(l)
		}
	}()

	lua.SetDebugHook(l, func(l *lua.State, _ lua.Debug) {
		if err := ctx.Err(); err != nil {
			l.PushString("interrupted: " + err.Error())
			l.Error()
		}
	}, lua.MaskCount, hookInstructions)
	defer lua.SetDebugHook(l, nil, 0, 0)

	l.SetTop(0)
	l.Global(scriptEntry)
	if err := pushValue(l, map[string]any(in), 0); err != nil {
		return nil, eris.Wrapf(err, "migration: %s input", s.name)
	}
	if err := l.ProtectedCall(1, 1, 0); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, eris.Wrapf(ctxErr, "migration: run %s", s.name)
		}
		return nil, eris.Wrapf(err, "migration: run %s", s.name)
	}
	if l.TypeOf(-1) != lua.TypeTable {
		return nil, eris.Errorf("migration: %s returned %s, want a table", s.name, lua.TypeNameOf(l, -1))
	}
	conv := converter{l: l, open: map[any]bool{}}
	result, err := conv.tableToMap(l.AbsIndex(-1), 0)
	if err != nil {
		return nil, eris.Wrapf(err, "migration: %s output", s.name)
	}
	return result, nil
}

func pushValue(l *lua.State, v any, depth int) error {
	if depth > maxDepth {
		return eris.Errorf("nesting deeper than %d", maxDepth)
	}
	if !l.CheckStack(2) {
		return eris.New("lua stack exhausted")
	}
	switch x := v.(type) {
	case nil:
		l.PushNil()
	case string:
		l.PushString(x)
	case bool:
		l.PushBoolean(x)
	case float64:
		l.PushNumber(x)
	case float32:
		l.PushNumber(float64(x))
	case int:
		l.PushNumber(float64(x))
	case int64:
		l.PushNumber(float64(x))
	case int32:
		l.PushNumber(float64(x))
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			l.PushString(x.String())
			return nil
		}
		l.PushNumber(f)
	case model.Payload:
		return pushValue(l, map[string]any(x), depth)
	case map[string]any:
		l.CreateTable(0, len(x))
		for k, item := range x {
			if err := pushValue(l, item, depth+1); err != nil {
				return err
			}
			l.SetField(-2, k)
		}
	case []any:
		l.CreateTable(len(x), 0)
		for i, item := range x {
			if err := pushValue(l, item, depth+1); err != nil {
				return err
			}
			l.RawSetInt(-2, i+1)
		}
	default:
		l.PushNil()
	}
	return nil
}

// converter walks a Lua result into Go values. open holds the tables on
// the current path so a table that contains itself is rejected.
type converter struct {
	l    *lua.State
	open map[any]bool
}

func (c converter) enter(index, depth int) error {
	if depth > maxDepth {
		return eris.Errorf("nesting deeper than %d", maxDepth)
	}
	if c.open[c.l.ToValue(index)] {
		return eris.New("table references itself")
	}
	if !c.l.CheckStack(3) {
		return eris.New("lua stack exhausted")
	}
	c.open[c.l.ToValue(index)] = true
	return nil
}

func (c converter) leave(index int) {
	delete(c.open, c.l.ToValue(index))
}

// tableToMap expects an absolute index of a table.
func (c converter) tableToMap(index, depth int) (map[string]any, error) {
	if err := c.enter(index, depth); err != nil {
		return nil, err
	}
	defer c.leave(index)

	l := c.l
	out := map[string]any{}
	l.PushNil()
	for l.Next(index) {
		if l.TypeOf(-2) == lua.TypeString {
			key, _ := l.ToString(-2)
			v, err := c.value(-1, depth+1)
			if err != nil {
				l.Pop(2)
				return nil, err
			}
			out[key] = v
		}
		l.Pop(1)
	}
	return out, nil
}

func (c converter) value(index, depth int) (any, error) {
	l := c.l
	switch l.TypeOf(index) {
	case lua.TypeString:
		s, _ := l.ToString(index)
		return s, nil
	case lua.TypeNumber:
		n, _ := l.ToNumber(index)
		return n, nil
	case lua.TypeBoolean:
		return l.ToBoolean(index), nil
	case lua.TypeTable:
		return c.table(l.AbsIndex(index), depth)
	}
	return nil, nil
}

// table returns a []any for sequences 1..n and a map otherwise.
func (c converter) table(index, depth int) (any, error) {
	l := c.l
	isArray := true
	maxIndex, count := 0, 0
	l.PushNil()
	for l.Next(index) {
		if isArray {
			if l.TypeOf(-2) != lua.TypeNumber {
				isArray = false
			} else if idx, ok := l.ToInteger(-2); ok && idx > 0 {
				count++
				if idx > maxIndex {
					maxIndex = idx
				}
			} else {
				isArray = false
			}
		}
		l.Pop(1)
	}

	if !isArray || count == 0 || maxIndex != count {
		return c.tableToMap(index, depth)
	}

	if err := c.enter(index, depth); err != nil {
		return nil, err
	}
	defer c.leave(index)

	out := make([]any, 0, maxIndex)
	for i := 1; i <= maxIndex; i++ {
		l.RawGetInt(index, i)
		v, err := c.value(-1, depth+1)
		l.Pop(1)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
