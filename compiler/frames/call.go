package frames

import (
	"fmt"
	"reflect"

	"github.com/dave/jennifer/jen"

	"github.com/syssam/forge/compiler/gen"
	"github.com/syssam/forge/compiler/typename"
)

// CallFrame calls a method on a variable or a package-level function.
// Arguments are resolved by type unless given explicitly. A *task.Task
// result is awaited, which makes the frame asynchronous.
type CallFrame struct {
	gen.FrameBase

	name     string
	fn       any          // package-level function, nil for method calls
	recvType reflect.Type // receiver type for method calls
	params   []reflect.Type
	variadic bool
	outs     []reflect.Type
	err      error

	explicit map[int]*gen.Variable
	named    map[int]string
	yields   reflect.Type
	target   *gen.Variable
	result   *gen.Variable
	raw      *gen.Variable // awaited value before the yields assertion

	recv *gen.Variable
	args []*gen.Variable
	ctx  *gen.Variable
}

// Method returns a frame calling method name on a value of type recv. The
// receiver is resolved by type unless set with On.
func Method(recv reflect.Type, name string) *CallFrame {
	c := &CallFrame{name: name, recvType: recv}
	if recv == nil {
		c.err = gen.NewConfigError("Method", name, "receiver type is nil")
		return c
	}
	m, ok := recv.MethodByName(name)
	if !ok {
		c.err = gen.NewConfigError("Method", name, "no method "+name+" on "+typename.FullNameInCode(recv))
		return c
	}
	ft := m.Type
	skip := 1
	if recv.Kind() == reflect.Interface {
		skip = 0
	}
	for i := skip; i < ft.NumIn(); i++ {
		c.params = append(c.params, ft.In(i))
	}
	c.init(ft)
	return c
}

// Func returns a frame calling the exported package-level function fn.
func Func(fn any) *CallFrame {
	c := &CallFrame{fn: fn}
	sym, err := typename.FuncSymbol(fn)
	if err != nil {
		c.err = gen.NewConfigError("Func", fmt.Sprintf("%T", fn), err.Error())
		return c
	}
	c.name = sym.Name
	ft := reflect.TypeOf(fn)
	for i := 0; i < ft.NumIn(); i++ {
		c.params = append(c.params, ft.In(i))
	}
	c.init(ft)
	return c
}

func (c *CallFrame) init(ft reflect.Type) {
	c.variadic = ft.IsVariadic()
	for i := 0; i < ft.NumOut(); i++ {
		c.outs = append(c.outs, ft.Out(i))
	}
	switch {
	case len(c.outs) > 2 || len(c.outs) == 2 && !typename.IsError(c.outs[1]):
		c.err = gen.NewConfigError("Call", c.name, "results must be (T), (error) or (T, error)")
	case len(c.outs) >= 1 && typename.IsAsync(c.outs[0]):
		if len(c.outs) == 2 {
			c.err = gen.NewConfigError("Call", c.name, "task results cannot be paired with an error")
			return
		}
		c.MarkAsync()
		c.result = gen.NewVariable(anyType, typename.ResultName(c.name, anyType))
		c.Declare(c.result)
	case len(c.outs) >= 1 && !typename.IsError(c.outs[0]):
		c.result = gen.NewVariable(c.outs[0], typename.ResultName(c.name, c.outs[0]))
		c.Declare(c.result)
	}
}

// On sets the receiver of a method call.
func (c *CallFrame) On(v *gen.Variable) *CallFrame {
	c.target = v
	return c
}

// With passes v as argument i.
func (c *CallFrame) With(i int, v *gen.Variable) *CallFrame {
	if c.explicit == nil {
		c.explicit = make(map[int]*gen.Variable)
	}
	c.explicit[i] = v
	return c
}

// Named resolves argument i by name as well as type.
func (c *CallFrame) Named(i int, name string) *CallFrame {
	if c.named == nil {
		c.named = make(map[int]string)
	}
	c.named[i] = name
	return c
}

// Yields sets the type of the value an awaited task completes with.
func (c *CallFrame) Yields(t reflect.Type) *CallFrame {
	if c.result != nil && c.IsAsync() {
		c.yields = t
		*c.result = *gen.NewVariable(t, typename.DefaultArgName(t))
		if c.raw == nil {
			c.raw = gen.NewVariable(anyType, c.result.Usage()+"Value")
			c.Declare(c.raw)
		}
	}
	return c
}

// ResultNamed renames the result variable. It must be called before the
// frame is arranged.
func (c *CallFrame) ResultNamed(usage string) *CallFrame {
	if c.result != nil {
		*c.result = *gen.NewVariable(c.result.Type, usage)
	}
	return c
}

// DisposeResult closes the result when the method returns.
func (c *CallFrame) DisposeResult() *CallFrame {
	if c.result != nil {
		c.result.Disposal = gen.DisposeClose
	}
	return c
}

// Result returns the variable the call creates, or nil when it returns no
// value.
func (c *CallFrame) Result() *gen.Variable { return c.result }

// Resolve implements gen.Frame.
func (c *CallFrame) Resolve(vars *gen.MethodVariables) ([]*gen.Variable, error) {
	if c.err != nil {
		return nil, c.err
	}
	var uses []*gen.Variable
	c.recv = nil
	if c.fn == nil {
		recv := c.target
		if recv == nil {
			v, err := vars.FindVariable(c.recvType)
			if err != nil {
				return nil, err
			}
			recv = v
		}
		c.recv = recv
		uses = append(uses, recv)
	}
	c.args = make([]*gen.Variable, len(c.params))
	for i, p := range c.params {
		var (
			v   *gen.Variable
			err error
		)
		switch {
		case c.explicit[i] != nil:
			v = c.explicit[i]
		case c.named[i] != "":
			v, err = vars.FindVariableByName(p, c.named[i])
		default:
			v, err = vars.FindVariable(p)
		}
		if err != nil {
			return nil, err
		}
		c.args[i] = v
		uses = append(uses, v)
	}
	if c.IsAsync() {
		ctx, err := vars.FindVariable(contextType)
		if err != nil {
			return nil, err
		}
		c.ctx = ctx
		uses = append(uses, ctx)
	}
	return uses, nil
}

func (c *CallFrame) call(m *gen.GeneratedMethod) *jen.Statement {
	var target *jen.Statement
	if c.fn != nil {
		target = m.FuncCode(c.fn)
	} else {
		target = c.recv.Code().Dot(c.name)
	}
	return target.CallFunc(func(g *jen.Group) {
		for i, a := range c.args {
			if c.variadic && i == len(c.args)-1 {
				g.Add(a.Code()).Op("...")
				continue
			}
			g.Add(a.Code())
		}
	})
}

// Generate implements gen.Frame.
func (c *CallFrame) Generate(m *gen.GeneratedMethod, g *jen.Group) {
	call := c.call(m)
	switch {
	case c.IsAsync():
		renderAwait(m, g, call, c.ctx, c.result, c.raw, c.yields)
	case len(c.outs) == 0:
		g.Add(call)
	case len(c.outs) == 1 && c.result == nil:
		g.If(jen.Err().Op(":=").Add(call), jen.Err().Op("!=").Nil()).Block(m.Fail(jen.Err()))
	case len(c.outs) == 1:
		g.Add(m.Assign(call, c.result))
		m.Dispose(g, c.result)
	case m.IsUsed(c.result):
		g.List(c.result.Code(), jen.Err()).Op(":=").Add(call)
		m.FailIfErr(g)
		m.Dispose(g, c.result)
	default:
		g.If(jen.List(jen.Id("_"), jen.Err()).Op(":=").Add(call), jen.Err().Op("!=").Nil()).Block(m.Fail(jen.Err()))
	}
}

func (c *CallFrame) String() string {
	if c.recvType != nil {
		return "Call(" + typename.NameInCode(c.recvType) + "." + c.name + ")"
	}
	return "Call(" + c.name + ")"
}

// renderAwait renders the await of a task expression. When yields is set
// the value is asserted to that type through raw; a nil value leaves the
// zero value and a value of another type fails the method.
func renderAwait(m *gen.GeneratedMethod, g *jen.Group, expr *jen.Statement, ctx, result, raw *gen.Variable, yields reflect.Type) {
	await := expr.Dot("Await").Call(ctx.Code())
	if result == nil || !m.IsUsed(result) {
		g.If(jen.List(jen.Id("_"), jen.Err()).Op(":=").Add(await), jen.Err().Op("!=").Nil()).Block(m.Fail(jen.Err()))
		return
	}
	if yields == nil || raw == nil {
		g.List(result.Code(), jen.Err()).Op(":=").Add(await)
		m.FailIfErr(g)
		return
	}
	g.List(raw.Code(), jen.Err()).Op(":=").Add(await)
	m.FailIfErr(g)
	g.List(result.Code(), jen.Id("ok")).Op(":=").Add(raw.Code()).Assert(m.TypeCode(yields))
	g.If(jen.Op("!").Id("ok").Op("&&").Add(raw.Code()).Op("!=").Nil()).Block(
		m.Fail(m.FuncCode(fmt.Errorf).Call(
			jen.Lit("task completed with %T, not "+typename.NameInCode(yields)),
			raw.Code(),
		)),
	)
	m.Dispose(g, result)
}

// AwaitFrame awaits a task held by a variable.
type AwaitFrame struct {
	gen.FrameBase
	source any
	yields reflect.Type
	result *gen.Variable
	raw    *gen.Variable

	task *gen.Variable
	ctx  *gen.Variable
}

// Await returns a frame awaiting the *task.Task variable v, or the task
// variable of that type when v is a reflect.Type. The completed value is
// asserted to yields, which may be nil to skip the value.
func Await(v any, yields reflect.Type) *AwaitFrame {
	a := &AwaitFrame{source: v, yields: yields}
	a.MarkAsync()
	if yields != nil {
		a.result = gen.VariableFor(yields)
		a.raw = gen.NewVariable(anyType, a.result.Usage()+"Value")
		a.Declare(a.result, a.raw)
	}
	return a
}

// Result returns the awaited value, or nil.
func (a *AwaitFrame) Result() *gen.Variable { return a.result }

// Resolve implements gen.Frame.
func (a *AwaitFrame) Resolve(vars *gen.MethodVariables) ([]*gen.Variable, error) {
	t, err := resolveArg(vars, a.source)
	if err != nil {
		return nil, err
	}
	if !typename.IsAsync(t.Type) {
		return nil, gen.NewConfigError("Await", t.Usage(), "variable is not a *task.Task")
	}
	ctx, err := vars.FindVariable(contextType)
	if err != nil {
		return nil, err
	}
	a.task, a.ctx = t, ctx
	return []*gen.Variable{t, ctx}, nil
}

// Generate implements gen.Frame.
func (a *AwaitFrame) Generate(m *gen.GeneratedMethod, g *jen.Group) {
	renderAwait(m, g, a.task.Code(), a.ctx, a.result, a.raw, a.yields)
}

func (a *AwaitFrame) String() string {
	return "Await"
}
