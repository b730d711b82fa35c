package performance

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*(.+?)\s*\}\}`)

// builtinRe matches $name or $name(args).
var builtinRe = regexp.MustCompile(`^\$(\w+)(?:\((.*)\))?$`)

const randomAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Render replaces {{ expr }} placeholders in s. Unknown names are left in
// place so they show up in the request.
func (vu *VirtualUser) Render(s string) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	return placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		expr := placeholderRe.FindStringSubmatch(m)[1]
		v, ok := vu.resolve(expr)
		if !ok {
			return m
		}
		return stringify(v)
	})
}

// RenderValue renders every string inside v. A string consisting of a
// single placeholder keeps the resolved value's type, so JSON bodies can
// carry numbers and objects from variables.
func (vu *VirtualUser) RenderValue(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		if m := placeholderRe.FindStringSubmatchIndex(t); m != nil && m[0] == 0 && m[1] == len(t) {
			if resolved, ok := vu.resolve(t[m[2]:m[3]]); ok {
				return resolved
			}
			return t
		}
		return vu.Render(t)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[vu.Render(k)] = vu.RenderValue(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = vu.RenderValue(val)
		}
		return out
	}
	return v
}

func (vu *VirtualUser) resolve(expr string) (interface{}, bool) {
	if strings.HasPrefix(expr, "$") {
		return vu.builtin(expr)
	}
	return lookupPath(vu.Vars, expr)
}

func (vu *VirtualUser) builtin(expr string) (interface{}, bool) {
	m := builtinRe.FindStringSubmatch(expr)
	if m == nil {
		if name, ok := strings.CutPrefix(expr, "$processEnvironment."); ok {
			return os.LookupEnv(name)
		}
		return nil, false
	}
	args := splitArgs(m[2])

	switch m[1] {
	case "uuid":
		return uuid.NewString(), true
	case "vuId":
		return vu.ID, true
	case "randomNumber":
		lo, hi := 0, 100
		if len(args) == 2 {
			var err1, err2 error
			lo, err1 = strconv.Atoi(args[0])
			hi, err2 = strconv.Atoi(args[1])
			if err1 != nil || err2 != nil {
				return nil, false
			}
		}
		return randomInt(vu.rng, lo, hi), true
	case "randomString":
		n := 10
		if len(args) == 1 {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return nil, false
			}
			n = v
		}
		return randomString(vu.rng, n), true
	case "env":
		if len(args) != 1 {
			return nil, false
		}
		return os.LookupEnv(args[0])
	}
	return nil, false
}

func splitArgs(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.Trim(strings.TrimSpace(parts[i]), `'"`)
	}
	return parts
}

// randomInt returns an integer in [lo, hi].
func randomInt(rng *rand.Rand, lo, hi int) int {
	if hi < lo {
		lo, hi = hi, lo
	}
	return lo + rng.Intn(hi-lo+1)
}

func randomString(rng *rand.Rand, n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, n)
	for i := range b {
		b[i] = randomAlphabet[rng.Intn(len(randomAlphabet))]
	}
	return string(b)
}

// lookupPath resolves a dotted path (user.address.city, items.0) in vars.
func lookupPath(vars map[string]interface{}, path string) (interface{}, bool) {
	if v, ok := vars[path]; ok {
		return v, true
	}
	parts := strings.Split(path, ".")
	var cur interface{} = vars
	for _, p := range parts {
		switch node := cur.(type) {
		case map[string]interface{}:
			v, ok := node[p]
			if !ok {
				return nil, false
			}
			cur = v
		case []interface{}:
			i, err := strconv.Atoi(p)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case fmt.Stringer:
		return t.String()
	case map[string]interface{}, []interface{}:
		if b, err := json.Marshal(t); err == nil {
			return string(b)
		}
	}
	return fmt.Sprint(v)
}
