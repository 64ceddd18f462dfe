package calc

import (
	"context"
	"fmt"
	"sync"

	"github.com/Shopify/go-lua"
)

// luaFormulas mirrors NativeBackend operation for operation.
const luaFormulas = `
function fit_trend(xs, ys, n)
  local sx, sy, sxy, sxx = 0, 0, 0, 0
  for i = 1, n do
    local x, y = xs[i], ys[i]
    sx = sx + x
    sy = sy + y
    sxy = sxy + x * y
    sxx = sxx + x * x
  end
  local den = n * sxx - sx * sx
  if den == 0 then
    return nil, "all x values are equal"
  end
  local slope = (n * sxy - sx * sy) / den
  local intercept = (sy - slope * sx) / n
  return slope, intercept
end

function discounted_sum(flows, n, rate)
  local total = 0
  for i = 1, n do
    total = total + flows[i] / (1 + rate) ^ i
  end
  return total
end
`

// LuaBackend evaluates the formulas inside an embedded Lua runtime.
// A lua.State is not safe for concurrent use, so calls are serialised.
type LuaBackend struct {
	mu    sync.Mutex
	state *lua.State
}

// NewLuaBackend starts the runtime and loads the formula script. It gives up
// when ctx is done before the runtime is ready.
func NewLuaBackend(ctx context.Context) (*LuaBackend, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("lua runtime init: %w", err)
	}

	type started struct {
		state *lua.State
		err   error
	}
	ch := make(chan started, 1)

	go func() {
		state := lua.NewState()
		lua.OpenLibraries(state)
		if err := lua.DoString(state, luaFormulas); err != nil {
			ch <- started{err: fmt.Errorf("load lua formulas: %w", err)}
			return
		}
		ch <- started{state: state}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("lua runtime init: %w", ctx.Err())
	case s := <-ch:
		if s.err != nil {
			return nil, s.err
		}
		return &LuaBackend{state: s.state}, nil
	}
}

func (b *LuaBackend) Name() string { return BackendLua }

func (b *LuaBackend) FitTrend(xs, ys []float64) (TrendModel, error) {
	if err := checkSeries(xs, ys); err != nil {
		return TrendModel{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	l := b.state

	l.Global("fit_trend")
	pushArray(l, xs)
	pushArray(l, ys)
	l.PushNumber(float64(len(xs)))
	if err := l.ProtectedCall(3, 2, 0); err != nil {
		l.Pop(1) // error object
		return TrendModel{}, fmt.Errorf("lua fit_trend: %w", err)
	}
	defer l.Pop(2)

	if l.IsNil(-2) {
		msg, _ := l.ToString(-1)
		return TrendModel{}, Invalid("x", "%s", msg)
	}
	slope, ok1 := l.ToNumber(-2)
	intercept, ok2 := l.ToNumber(-1)
	if !ok1 || !ok2 {
		return TrendModel{}, fmt.Errorf("lua fit_trend returned non-numeric results")
	}
	return TrendModel{Slope: slope, Intercept: intercept, N: len(xs)}, nil
}

func (b *LuaBackend) DiscountedSum(flows []float64, rate float64) (float64, error) {
	if err := checkRate(rate); err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	l := b.state

	l.Global("discounted_sum")
	pushArray(l, flows)
	l.PushNumber(float64(len(flows)))
	l.PushNumber(rate)
	if err := l.ProtectedCall(3, 1, 0); err != nil {
		l.Pop(1) // error object
		return 0, fmt.Errorf("lua discounted_sum: %w", err)
	}
	defer l.Pop(1)

	total, ok := l.ToNumber(-1)
	if !ok {
		return 0, fmt.Errorf("lua discounted_sum returned a non-numeric result")
	}
	return total, nil
}

// pushArray pushes a 1-based Lua array holding values.
func pushArray(l *lua.State, values []float64) {
	l.CreateTable(len(values), 0)
	for i, v := range values {
		l.PushNumber(v)
		l.RawSetInt(-2, i+1)
	}
}
