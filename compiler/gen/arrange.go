package gen

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// scope is a block of frames: the method body or the children of a
// structural frame.
type scope struct {
	parent *scope
	frames []Frame     // registered frames, in registration order
	known  []*Variable // variables visible to frames in this block
	out    []Frame     // arranged frames
}

func within(s, target *scope) bool {
	for ; s != nil; s = s.parent {
		if s == target {
			return true
		}
	}
	return false
}

// arranger orders the frames of one method. Nothing it computes is written
// back to the method or its frames unless every frame resolves.
type arranger struct {
	m        *GeneratedMethod
	sources  []VariableSource
	root     *scope
	homes    map[Frame]*scope
	inner    map[Frame]*scope
	placed   map[Frame]bool
	uses     map[Frame][]*Variable
	visiting []Frame
	finding  map[reflect.Type]bool
}

func newArranger(m *GeneratedMethod) *arranger {
	a := &arranger{
		m:       m,
		root:    &scope{},
		homes:   make(map[Frame]*scope),
		inner:   make(map[Frame]*scope),
		placed:  make(map[Frame]bool),
		uses:    make(map[Frame][]*Variable),
		finding: make(map[reflect.Type]bool),
	}
	a.sources = append(a.sources, m.sources...)
	if m.typ != nil {
		if m.typ.assembly != nil {
			a.sources = append(a.sources, m.typ.assembly.Rules.Sources...)
		}
		for _, f := range m.typ.fields {
			a.root.known = append(a.root.known, f.Variable)
		}
	}
	a.root.known = append(a.root.known, m.Args...)
	return a
}

// register indexes frames, their created variables and their children.
func (a *arranger) register(s *scope, frames []Frame, wish bool) error {
	for _, f := range frames {
		if f == nil {
			return NewGenerationError("arrange", a.m.FullName(), "nil frame", nil)
		}
		if _, dup := a.homes[f]; dup {
			return NewGenerationError("arrange", a.m.FullName(), fmt.Sprintf("frame %s registered twice", FrameName(f)), nil)
		}
		a.homes[f] = s
		if wish {
			s.frames = append(s.frames, f)
		}
		for _, v := range f.Creates() {
			if err := v.SetCreator(f); err != nil {
				return err
			}
			s.known = append(s.known, v)
		}
		if children := f.Children(); len(children) > 0 {
			inner := &scope{parent: s}
			a.inner[f] = inner
			if err := a.register(inner, children, true); err != nil {
				return err
			}
		}
	}
	return nil
}

// adopt makes a variable handed out by a source visible to the whole
// method. Its creator, if any, becomes a method-level frame.
func (a *arranger) adopt(v *Variable) error {
	if v == nil {
		return NewGenerationError("arrange", a.m.FullName(), "variable source returned nil", nil)
	}
	if c := v.creator; c != nil {
		if _, ok := a.homes[c]; ok {
			return nil
		}
		return a.register(a.root, []Frame{c}, false)
	}
	for _, k := range a.root.known {
		if k == v {
			return nil
		}
	}
	a.root.known = append(a.root.known, v)
	return nil
}

// place appends f to its block after everything f depends on.
func (a *arranger) place(f Frame) error {
	if a.placed[f] {
		return nil
	}
	for i, v := range a.visiting {
		if v == f {
			names := make([]string, 0, len(a.visiting)-i+1)
			for _, c := range a.visiting[i:] {
				names = append(names, FrameName(c))
			}
			names = append(names, FrameName(f))
			return &ResolutionError{
				Method:  a.m.FullName(),
				Frame:   FrameName(f),
				Message: "dependency cycle: " + strings.Join(names, " -> "),
			}
		}
	}
	a.visiting = append(a.visiting, f)
	defer func() { a.visiting = a.visiting[:len(a.visiting)-1] }()

	home := a.homes[f]
	uses, err := f.Resolve(&MethodVariables{a: a, scope: home, frame: f})
	if err != nil {
		return a.annotate(f, err)
	}
	for _, v := range uses {
		if err := a.ensure(v, home, f); err != nil {
			return err
		}
	}
	if inner := a.inner[f]; inner != nil {
		for _, c := range inner.frames {
			if err := a.place(c); err != nil {
				return err
			}
		}
	}
	home.out = append(home.out, f)
	a.placed[f] = true
	a.uses[f] = uses
	return nil
}

// ensure places the creator of v, and of everything v depends on, ahead of
// the frame that asked for it.
func (a *arranger) ensure(v *Variable, from *scope, requester Frame) error {
	if v == nil {
		return NewResolutionError(a.m.FullName(), FrameName(requester), nil, "frame resolved a nil variable")
	}
	for _, d := range v.Dependencies {
		if err := a.ensure(d, from, requester); err != nil {
			return err
		}
	}
	c := v.creator
	if c == nil {
		if v.origin == OriginFrame {
			return NewResolutionError(a.m.FullName(), FrameName(requester), nil,
				fmt.Sprintf("variable %s is not created by any frame of this method", v.Describe()))
		}
		return nil
	}
	home, ok := a.homes[c]
	if !ok {
		return NewResolutionError(a.m.FullName(), FrameName(requester), nil,
			fmt.Sprintf("variable %s is created by %s, which belongs to another method", v.Describe(), FrameName(c)))
	}
	// Structural frames declare their variables before rendering children.
	if inner := a.inner[c]; inner != nil && within(from, inner) {
		return nil
	}
	if !within(from, home) {
		return NewResolutionError(a.m.FullName(), FrameName(requester), nil,
			fmt.Sprintf("variable %s is created inside a nested block and is not visible here", v.Describe()))
	}
	return a.place(c)
}

func (a *arranger) annotate(f Frame, err error) error {
	var re *ResolutionError
	if errors.As(err, &re) {
		if re.Method == "" {
			re.Method = a.m.FullName()
		}
		if re.Frame == "" {
			re.Frame = FrameName(f)
		}
	}
	var ae *AmbiguityError
	if errors.As(err, &ae) && ae.Method == "" {
		ae.Method = a.m.FullName()
	}
	return err
}

// commit writes the arrangement back to the method and its frames.
func (a *arranger) commit() {
	m := a.m
	m.arranged = a.root.out
	for f, inner := range a.inner {
		f.base().body = inner.out
	}
	m.used = make(map[*Variable]bool)
	var mark func(v *Variable)
	mark = func(v *Variable) {
		if v == nil || m.used[v] {
			return
		}
		m.used[v] = true
		for _, d := range v.Dependencies {
			mark(d)
		}
	}
	for f, uses := range a.uses {
		f.base().uses = uses
		for _, v := range uses {
			mark(v)
		}
	}
	for _, f := range m.arranged {
		if f.IsAsync() {
			m.async.markAsync()
		}
	}
	m.async.resolve()
	a.dedupe()
}

// dedupe suffixes variables whose usage collides with one declared earlier,
// walking frames in arranged order so the result is stable.
func (a *arranger) dedupe() {
	taken := map[string]bool{"_": true, "err": true, "r": true, "ok": true}
	if a.m.typ != nil {
		taken[a.m.typ.receiver.Usage()] = true
	}
	for _, v := range a.m.Args {
		taken[v.Usage()] = true
	}
	var walk func(frames []Frame)
	walk = func(frames []Frame) {
		for _, f := range frames {
			for _, v := range f.Creates() {
				if v.parent != nil || v.usage == "_" {
					continue
				}
				if taken[v.usage] {
					base := v.usage
					i := 2
					for taken[base+strconv.Itoa(i)] {
						i++
					}
					v.rename(base + strconv.Itoa(i))
				}
				taken[v.usage] = true
			}
			walk(f.base().Body())
		}
	}
	walk(a.m.arranged)
}
