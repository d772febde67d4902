package interp

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rs/zerolog"

	"github.com/mrzor/probescript/internal/event"
	"github.com/mrzor/probescript/internal/probe"
)

var (
	errNotClosure     = errors.New("invoked value is not a closure")
	errStackUnderflow = errors.New("invoke with fewer stack values than arguments")
)

// Config contains interpreter configuration.
type Config struct {
	Logger zerolog.Logger
	// Output receives script output lines. Sends never block: when the
	// channel is full or nil the line is dropped and counted.
	Output chan<- string
	// Fields overrides the event field table; nil selects event.Fields().
	Fields *event.Table
}

// Stats reports interpreter activity counters.
type Stats struct {
	Invocations   uint64
	Failures      uint64
	DroppedOutput uint64
}

// Main is the session's main interpreter context. Closures are compiled
// against it and every dispatch runs in a Context derived from it.
type Main struct {
	logger zerolog.Logger
	output chan<- string
	fields *event.Table

	contexts sync.Pool

	invocations atomic.Uint64
	failures    atomic.Uint64
	dropped     atomic.Uint64
	lastErr     atomic.Pointer[error]
}

// New creates a main interpreter context.
func New(cfg Config) *Main {
	fields := cfg.Fields
	if fields == nil {
		fields = event.Fields()
	}
	m := &Main{
		logger: cfg.Logger.With().Str("component", "interp").Logger(),
		output: cfg.Output,
		fields: fields,
	}
	m.contexts.New = func() any {
		return &Context{main: m, env: make(map[string]interface{}, 1)}
	}
	return m
}

// Stats returns a snapshot of the activity counters.
func (m *Main) Stats() Stats {
	return Stats{
		Invocations:   m.invocations.Load(),
		Failures:      m.failures.Load(),
		DroppedOutput: m.dropped.Load(),
	}
}

// LastError returns the most recent script failure, or nil.
func (m *Main) LastError() error {
	if p := m.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

// CreateContext implements probe.Interpreter. It is safe for concurrent use.
func (m *Main) CreateContext() probe.ExecContext {
	c, _ := m.contexts.Get().(*Context)
	return c
}

// DestroyContext implements probe.Interpreter.
func (m *Main) DestroyContext(ec probe.ExecContext) {
	c, ok := ec.(*Context)
	if !ok || c.main != m {
		return
	}
	c.reset()
	m.contexts.Put(c)
}

// fail records a script failure on the interpreter's error channel.
func (m *Main) fail(name string, err error) {
	m.failures.Add(1)
	err = fmt.Errorf("script %s: %w", name, err)
	m.lastErr.Store(&err)
	m.logger.Debug().Err(err).Msg("Script failed")
}

// emit hands one output line to the output channel without blocking.
func (m *Main) emit(line string) {
	if m.output == nil {
		m.dropped.Add(1)
		return
	}
	select {
	case m.output <- line:
	default:
		m.dropped.Add(1)
	}
}

// builtins returns the functions every script may call.
func (m *Main) builtins() []expr.Option {
	return []expr.Option{
		expr.Function(fieldFunc,
			func(params ...any) (any, error) {
				v, _ := params[0].(*event.View)
				index, _ := params[1].(int)
				return m.fields.Get(v, index), nil
			},
			new(func(*event.View, int) any),
		),
		expr.Function("print",
			func(params ...any) (any, error) {
				m.emit(joinValues(params))
				return nil, nil
			},
		),
		expr.Function("printf",
			func(params ...any) (any, error) {
				if len(params) == 0 {
					return nil, fmt.Errorf("printf requires a format")
				}
				format, ok := params[0].(string)
				if !ok {
					return nil, fmt.Errorf("printf format must be a string, got %T", params[0])
				}
				m.emit(fmt.Sprintf(format, params[1:]...))
				return nil, nil
			},
		),
	}
}

// joinValues renders values separated by single spaces.
func joinValues(values []any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		if v == nil {
			parts[i] = "nil"
			continue
		}
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, " ")
}

// Context is a lightweight execution context for one dispatch.
// It is not safe for concurrent use; each dispatch creates its own.
type Context struct {
	main    *Main
	stack   []any
	env     map[string]interface{}
	machine vm.VM
}

// Push implements probe.ExecContext.
func (c *Context) Push(v any) {
	c.stack = append(c.stack, v)
}

// Invoke implements probe.ExecContext. It calls the closure sitting below
// the top argc values. Failures never escape: they are recorded on the
// main context's error channel. A non-nil result is emitted as output.
func (c *Context) Invoke(argc int) {
	m := c.main
	m.invocations.Add(1)

	base := len(c.stack) - 1 - argc
	if argc < 0 || base < 0 {
		m.fail("<unknown>", errStackUnderflow)
		c.stack = c.stack[:0]
		return
	}
	cl, ok := c.stack[base].(*Closure)
	args := c.stack[base+1:]
	c.stack = c.stack[:base]
	if !ok || cl == nil {
		m.fail("<unknown>", errNotClosure)
		return
	}

	clear(c.env)
	if len(cl.params) > 0 {
		var arg any
		if len(args) > 0 {
			arg = args[0]
		}
		c.env[cl.params[0]] = arg
	}

	defer func() {
		if r := recover(); r != nil {
			m.fail(cl.name, fmt.Errorf("panic: %v", r))
		}
		clear(c.env)
	}()

	out, err := c.machine.Run(cl.program, c.env)
	if err != nil {
		m.fail(cl.name, err)
		return
	}
	if out != nil {
		m.emit(fmt.Sprint(out))
	}
}

func (c *Context) reset() {
	clear(c.stack)
	c.stack = c.stack[:0]
	clear(c.env)
}
