package performance

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/wesleyorama2/barrage/internal/performance/config"
	"github.com/wesleyorama2/barrage/pkg/jsonpath"
)

var errNoMatch = errors.New("no match")

// regexpCache holds compiled capture patterns shared by all VUs.
var regexpCache sync.Map

func compileCached(expr string) (*regexp.Regexp, error) {
	if re, ok := regexpCache.Load(expr); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	regexpCache.Store(expr, re)
	return re, nil
}

// applyCaptures stores captured response values in the VU vars. A strict
// capture that does not match returns a *CaptureError.
func (vu *VirtualUser) applyCaptures(caps []config.CaptureConfig, resp *Response) error {
	for _, c := range caps {
		kind, expr := c.Source()
		expr = vu.Render(expr)

		v, err := capture(kind, expr, c.Group, resp)
		if err != nil {
			if c.IsStrict() {
				return &CaptureError{As: c.As, Expr: expr, Err: err}
			}
			vu.logger.Debug("optional capture did not match", zap.String("as", c.As), zap.Error(err))
			continue
		}
		vu.Vars[c.As] = v
	}
	return nil
}

func capture(kind, expr string, group int, resp *Response) (interface{}, error) {
	switch kind {
	case "json":
		res, err := jsonpath.Extract(resp.Body, expr)
		if err != nil {
			return nil, err
		}
		return res.Native, nil
	case "header":
		vals := resp.Header.Values(expr)
		if len(vals) == 0 {
			return nil, errNoMatch
		}
		return strings.Join(vals, ", "), nil
	case "regexp":
		re, err := compileCached(expr)
		if err != nil {
			return nil, err
		}
		m := re.FindSubmatch(resp.Body)
		if m == nil || group >= len(m) {
			return nil, errNoMatch
		}
		return string(m[group]), nil
	}
	return nil, fmt.Errorf("unknown capture source %q", kind)
}

// evalCondition evaluates an ifTrue expression against the VU vars. An
// expression without an operator tests the variable for truthiness.
func (vu *VirtualUser) evalCondition(expr string) bool {
	expr = strings.TrimSpace(expr)
	path, op, want, err := config.ParseCondition(expr)
	if err != nil {
		v, ok := vu.resolve(expr)
		return ok && truthy(v)
	}

	got, ok := vu.resolve(path)
	if !ok {
		return false
	}
	want = strings.Trim(vu.Render(want), `'"`)

	a, errA := strconv.ParseFloat(stringify(got), 64)
	b, errB := strconv.ParseFloat(want, 64)
	if errA == nil && errB == nil {
		return config.Compare(a, op, b)
	}
	return config.CompareStrings(stringify(got), op, want)
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	case string:
		return t != "" && t != "false" && t != "0"
	}
	return true
}
