// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package context defines the Context and Variable types: Context organizes variables
// and hyperparameters in scopes, and Variable holds the value of a model parameter.
package context

import (
	"encoding"
	"fmt"
	"iter"
	"reflect"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/resnet50/internal/scoped"
	"github.com/gomlx/resnet50/pkg/core/graph"
	"github.com/gomlx/resnet50/pkg/core/shapes"
	"github.com/gomlx/resnet50/pkg/core/tensors"
)

// Context organizes information shared in a model: its variables (weights) and its hyperparameters.
//
// Both are organized in "scopes". The Context object is a thin wrapper that
// contains the current scope (similar to a current directory) and a link to the actual data. One can change
// scopes by using Context.In("new_scope"): it returns a new Context with the new scope set, but still pointing
// (sharing) all the data with the previous Context. E.g:
//
//	func main() {
//		ctx := context.New()
//		ctx.SetParam("bn_epsilon", 1e-3)
//		...
//	}
//
//	func Block(ctx *context.Context, x *Node) *Node {
//		conv := layers.Convolution(ctx.In("res2a_branch2a"), x).Filters(64).KernelSize(1).Done()
//		...
//	}
//
// Variable duplicate creation checking:
// the context is by default configured with Context.Checked(true), which checks at every variable creation whether
// the variable already exists. This is useful to prevent unintended reuse of variables, which for a model means
// two layers with the same name. When checked, variable creation will panic if:
//
//   - not reusing (the default) and variable already exists;
//   - Context.Reuse() and variable didn't exist.
type Context struct {
	// scope for currently created variables and registration.
	scope string

	// reuse of variables, if set to true.
	reuse bool

	// checked access to variables: whether to check for reuse if variable is new or not. If set
	// to false it makes reuse irrelevant.
	checked bool

	// initializer is used to initialize variable values for a given shape.
	initializer VariableInitializer

	// data is where the content is stored, shared among all Context references.
	data *contextData
}

// scopedVariableMap name to variable within a scope.
type scopedVariableMap map[string]*Variable

// contextData stores all context information and is shared among various Context, which
// serve only as scoped references.
type contextData struct {
	// params holds a model's building (hyper)parameters. Context
	// is agnostic about the semantics here. These values are interpreted by
	// the various model components independently.
	params *scoped.Params

	// variablesMap for this context organized per scope.
	variablesMap map[string]scopedVariableMap

	// variables is a plain list of all variables, in creation order.
	variables []*Variable
}

const (
	// ScopeSeparator is used between levels of scope. Scope names cannot use this character.
	ScopeSeparator = "/"

	// RootScope is the scope at the very root.
	RootScope = ScopeSeparator
)

// New returns an empty context, associated with freshly created data.
//
// The default variable initializer is a deterministic random uniform noise from [-0.05, 0.05], seeded by
// the variable name. Set your own with Context.WithInitializer.
func New() *Context {
	return &Context{
		scope:       RootScope,
		checked:     true,
		initializer: RandomUniformFn(0, -0.05, 0.05),
		data: &contextData{
			params:       scoped.New(ScopeSeparator),
			variablesMap: make(map[string]scopedVariableMap),
		},
	}
}

// copy creates a copy of the Context, but sharing the same "data" component.
func (ctx *Context) copy() *Context {
	ctx2 := &Context{}
	*ctx2 = *ctx
	return ctx2
}

// JoinScope and name into a single string.
// If scope is empty, name is returned.
// See also SplitScope.
func JoinScope(scope, name string) string {
	if strings.HasSuffix(scope, ScopeSeparator) {
		return scope + name
	}
	if scope == "" {
		return name
	}
	return scope + ScopeSeparator + name
}

// SplitScope splits the scope from the name for a combined string, typically created by JoinScope.
// If there is no scope configured, scope is set to "".
func SplitScope(scopeAndName string) (scope, name string) {
	if !strings.HasPrefix(scopeAndName, ScopeSeparator) {
		return "", scopeAndName
	}
	separationIdx := strings.LastIndex(scopeAndName, ScopeSeparator)
	name = scopeAndName[separationIdx+1:]
	if separationIdx == 0 {
		scope = RootScope
	} else {
		scope = scopeAndName[:separationIdx]
	}
	return
}

// Scope returns the full scope path.
func (ctx *Context) Scope() string {
	return ctx.scope
}

// In returns a new reference to the Context with the extra given scope. No ScopeSeparator ("/") is
// allowed in scope.
func (ctx *Context) In(scope string) *Context {
	if scope == "" {
		exceptions.Panicf("cannot use empty scope for Context.In()")
	}
	if strings.Contains(scope, ScopeSeparator) {
		exceptions.Panicf("cannot use separator %q in scope element %q", ScopeSeparator, scope)
	}
	return ctx.InAbsPath(JoinScope(ctx.scope, scope))
}

// Inf returns a new reference to the Context with the extra given scope, given as a format + args,
// which are passed to fmt.Sprintf.
func (ctx *Context) Inf(format string, args ...any) *Context {
	return ctx.In(fmt.Sprintf(format, args...))
}

// InAbsPath returns a new reference to the Context with the extra given scope. It should start and have each element
// separated by ScopeSeparator. Use RootScope for the root scope.
func (ctx *Context) InAbsPath(scopePath string) *Context {
	if !strings.HasPrefix(scopePath, ScopeSeparator) {
		exceptions.Panicf("absolute scope path must start with separator %q, got %q", ScopeSeparator, scopePath)
	}
	ctx2 := ctx.copy()
	ctx2.scope = scopePath
	return ctx2
}

// Reuse returns a new reference to the Context set to reuse of variables.
// If checked is false, this setting is irrelevant.
func (ctx *Context) Reuse() *Context {
	ctx2 := ctx.copy()
	ctx2.reuse = true
	return ctx2
}

// IsReuse returns whether Context is marked for reuse. This is irrelevant if IsChecked is false.
func (ctx *Context) IsReuse() bool { return ctx.reuse }

// Checked returns a new context with the checked flag set accordingly.
// If checked is true checks for reuse/uniqueness are checked according to IsReuse().
// If checked is false Variables are dynamically reused or created when needed, without any checks.
func (ctx *Context) Checked(checked bool) *Context {
	ctx2 := ctx.copy()
	ctx2.checked = checked
	return ctx2
}

// IsChecked returns whether context is checking reuse rules.
func (ctx *Context) IsChecked() bool { return ctx.checked }

// WithInitializer returns a new reference to the Context, with the initializer set.
// It is used by variables created with this reference (or references derived from it).
func (ctx *Context) WithInitializer(initializer VariableInitializer) *Context {
	if initializer == nil {
		exceptions.Panicf("Context.WithInitializer(): initializer is nil")
	}
	ctx2 := ctx.copy()
	ctx2.initializer = initializer
	return ctx2
}

// GetParam returns the value for the given param key, searching successively from
// the current scope back to the root scope ("/"), in case the key is not found.
//
// E.g: if current scope is "/a/b", it will search for the key in "/a/b" scope, then
// in "/a" and finally in "/", and return the first result found.
func (ctx *Context) GetParam(key string) (value any, found bool) {
	return ctx.data.params.Get(ctx.scope, key)
}

var textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()

// MustGetParam is like GetParam, but panics if the parameter is not found, or if it cannot be converted to type T.
//
// It tries to cast the value to the given type. If it fails, it tries to convert the
// value to the given type (so an `int` will be converted to a `float64` transparently).
// Strings are parsed for types implementing encoding.TextUnmarshaler.
func MustGetParam[T any](ctx *Context, key string) T {
	var t T
	valueAny, found := ctx.GetParam(key)
	if !found {
		exceptions.Panicf("parameter %q (of type %T) not found in scope %q (and its parents)", key, t, ctx.Scope())
	}
	if value, ok := valueAny.(T); ok {
		return value
	}
	v := reflect.ValueOf(valueAny)
	typeOfT := reflect.TypeOf(t)
	valueT := reflect.New(typeOfT)
	if valueT.Type().Implements(textUnmarshalerType) && v.Kind() == reflect.String {
		if err := valueT.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(v.String())); err != nil {
			exceptions.Panicf("parameter %q: can't UnmarshalText %q to %s: %v", key, v.String(), typeOfT, err)
		}
		return valueT.Elem().Interface().(T)
	}
	if !v.IsValid() || !v.CanConvert(typeOfT) {
		exceptions.Panicf("MustGetParam/GetParamOr[%T](ctx, %q): ctx(scope=%q)[%q]=(%T) %#v, and cannot be converted to %T",
			t, key, ctx.Scope(), key, valueAny, valueAny, t)
	}
	return v.Convert(typeOfT).Interface().(T)
}

// GetParamOr either returns the value for the given param key in the context `ctx`,
// searching successively from the current scope back to the root scope ("/"), or if the
// key is not found or the key is set to nil, it returns the given default value.
//
// The value is converted as in MustGetParam, and it panics if it can't be converted.
func GetParamOr[T any](ctx *Context, key string, defaultValue T) T {
	valueAny, found := ctx.GetParam(key)
	if !found || valueAny == nil {
		return defaultValue
	}
	return MustGetParam[T](ctx, key)
}

// SetParam sets the given param in the current scope. It will be visible (by GetParam)
// within this scope and descendant scopes (but not by other scopes).
func (ctx *Context) SetParam(key string, value any) {
	ctx.data.params.Set(ctx.scope, key, value)
}

// SetParams sets a collection of parameters in the current scope.
func (ctx *Context) SetParams(keyValues map[string]any) {
	for key, value := range keyValues {
		ctx.SetParam(key, value)
	}
}

// EnumerateParams enumerates all parameters for all scopes calls fn with their values.
func (ctx *Context) EnumerateParams(fn func(scope, key string, value any)) {
	ctx.data.params.Enumerate(fn)
}

// InspectVariable returns the variable with the given name for inspection. It returns nil if a variable with the given
// name hasn't been created.
//
// The root scope is "/" (RootScope).
func (ctx *Context) InspectVariable(scope, name string) *Variable {
	return ctx.data.variablesMap[scope][name]
}

// InspectVariableInScope works like InspectVariable, but looks for the variable in the current scope.
func (ctx *Context) InspectVariableInScope(name string) *Variable {
	return ctx.InspectVariable(ctx.scope, name)
}

// VariableWithShape creates or returns an existing variable with the given shape in the current scope.
// New variables are initialized immediately with the context's initializer.
//
// If Context is set with Context.Checked(true), it panics if the variable already exists
// and the context is not in Context.Reuse mode, or if it doesn't exist and the context is in reuse mode.
// A reused variable must have the same shape.
func (ctx *Context) VariableWithShape(name string, shape shapes.Shape) *Variable {
	if name == "" || strings.Contains(name, ScopeSeparator) {
		exceptions.Panicf("invalid variable name %q in scope %q", name, ctx.scope)
	}
	v := ctx.InspectVariableInScope(name)
	if v != nil {
		if ctx.checked && !ctx.reuse {
			exceptions.Panicf("variable %q for scope %q already exists, and the context is not in reuse mode", name, ctx.scope)
		}
		if !v.shape.Equal(shape) {
			exceptions.Panicf("requested to reuse variable %q in scope %q, but with different shape from original: previous shape=%s, requested shape=%s",
				name, ctx.scope, v.shape, shape)
		}
		return v
	}
	if ctx.checked && ctx.reuse {
		exceptions.Panicf("requested variable %q in scope %q with Context.Reuse set, but variable does not exist", name, ctx.scope)
	}
	if shape.IsDynamic() {
		exceptions.Panicf("variable %q in scope %q cannot have a dynamic shape %s", name, ctx.scope, shape)
	}
	v = &Variable{
		ctx:          ctx,
		name:         name,
		scope:        ctx.scope,
		shape:        shape.Clone(),
		graphToNodes: make(map[*graph.Graph]*graph.Node),
	}
	v.value = ctx.initializer(v.ParameterName(), v.shape)
	ctx.setVariableInScope(v)
	return v
}

// VariableWithValue creates a variable in the current scope initialized with a copy of the given value.
// The same reuse rules of VariableWithShape apply: if it is reused, its current value is kept.
func (ctx *Context) VariableWithValue(name string, value *tensors.Tensor) *Variable {
	value.AssertValid()
	existing := ctx.InspectVariableInScope(name)
	v := ctx.VariableWithShape(name, value.Shape())
	if existing == nil {
		v.value = value.Clone()
	}
	return v
}

func (ctx *Context) setVariableInScope(v *Variable) {
	vSet, found := ctx.data.variablesMap[v.scope]
	if !found {
		vSet = make(scopedVariableMap)
		ctx.data.variablesMap[v.scope] = vSet
	}
	vSet[v.name] = v
	ctx.data.variables = append(ctx.data.variables, v)
}

// IterVariables iterates over all variables, in creation order.
// The iteration order is stable, but the context must not be changed during the iteration.
func (ctx *Context) IterVariables() iter.Seq[*Variable] {
	return slices.Values(ctx.data.variables)
}

// IterVariablesInScope iterates over the variables in the current scope and its sub-scopes, in creation order.
func (ctx *Context) IterVariablesInScope() iter.Seq[*Variable] {
	return func(yield func(*Variable) bool) {
		for _, v := range ctx.data.variables {
			if !isSubScope(ctx.scope, v.scope) {
				continue
			}
			if !yield(v) {
				return
			}
		}
	}
}

// isSubScope returns whether scope is base or a sub-scope of it.
func isSubScope(base, scope string) bool {
	if base == RootScope || base == scope {
		return true
	}
	return strings.HasPrefix(scope, base+ScopeSeparator)
}

// NumVariables return the number of variables in this Context.
func (ctx *Context) NumVariables() int {
	return len(ctx.data.variables)
}

// NumParameters returns the summed-up number of all variables elements.
func (ctx *Context) NumParameters() int {
	total := 0
	for _, v := range ctx.data.variables {
		total += v.shape.Size()
	}
	return total
}

// Memory returns the total number of bytes summed across all variables.
func (ctx *Context) Memory() uintptr {
	var total uintptr
	for _, v := range ctx.data.variables {
		total += v.shape.Memory()
	}
	return total
}

// ExecSetVariablesInParams adds the values of all variables used in graph g to the params map,
// to be used with graph.Graph.RunWithMap.
func (ctx *Context) ExecSetVariablesInParams(params graph.ParamsMap, g *graph.Graph) {
	for _, v := range ctx.data.variables {
		if node := v.ParamNode(g); node != nil {
			params[node] = v.Value()
		}
	}
}
