package script

import (
	"math"

	"github.com/Shopify/go-lua"
)

// toGoValue converts the Lua value at index into plain Go data: strings,
// booleans, numbers (int when integral) and tables. Anything else, run
// functions included, converts to nil.
func toGoValue(l *lua.State, index int) interface{} {
	switch l.TypeOf(index) {
	case lua.TypeString:
		s, _ := l.ToString(index)
		return s
	case lua.TypeNumber:
		n, _ := l.ToNumber(index)
		if math.Mod(n, 1) == 0 {
			return int(n)
		}
		return n
	case lua.TypeBoolean:
		return l.ToBoolean(index)
	case lua.TypeTable:
		return tableToGoValue(l, index)
	default:
		return nil
	}
}

// tableToGoValue converts a table whose keys are exactly 1..n into a
// slice, and anything else into a map of its string keys.
func tableToGoValue(l *lua.State, index int) interface{} {
	index = l.AbsIndex(index)

	isArray := true
	count, max := 0, 0
	l.PushNil()
	for l.Next(index) {
		if isArray {
			if l.TypeOf(-2) != lua.TypeNumber {
				isArray = false
			} else if i, ok := l.ToInteger(-2); ok && i > 0 {
				count++
				if i > max {
					max = i
				}
			} else {
				isArray = false
			}
		}
		l.Pop(1)
	}

	if isArray && count > 0 && max == count {
		out := make([]interface{}, 0, max)
		for i := 1; i <= max; i++ {
			l.RawGetInt(index, i)
			out = append(out, toGoValue(l, -1))
			l.Pop(1)
		}
		return out
	}

	out := map[string]interface{}{}
	l.PushNil()
	for l.Next(index) {
		if l.TypeOf(-2) == lua.TypeString {
			key, _ := l.ToString(-2)
			out[key] = toGoValue(l, -1)
		}
		l.Pop(1)
	}
	return out
}

// pushValue pushes decoded config or storage data onto the Lua stack.
// Integral floats become integers, mirroring toGoValue, so a number
// survives a JSON round trip unchanged. Kinds YAML and JSON never
// produce push nil.
func pushValue(l *lua.State, v interface{}) {
	switch t := v.(type) {
	case nil:
		l.PushNil()
	case bool:
		l.PushBoolean(t)
	case int:
		l.PushInteger(t)
	case int64:
		l.PushInteger(int(t))
	case float64:
		if math.Mod(t, 1) == 0 {
			l.PushInteger(int(t))
		} else {
			l.PushNumber(t)
		}
	case string:
		l.PushString(t)
	case []interface{}:
		l.NewTable()
		for i, item := range t {
			pushValue(l, item)
			l.RawSetInt(-2, i+1)
		}
	case map[string]interface{}:
		l.NewTable()
		for key, item := range t {
			pushValue(l, item)
			l.SetField(-2, key)
		}
	default:
		l.PushNil()
	}
}
