package task

import (
	"context"
	"fmt"
	"reflect"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	keywordType = reflect.TypeOf(map[string]any(nil))
)

// Func adapts an arbitrary Go function into a WorkFunc.
//
// The function receives the positional arguments in order. If its first
// parameter is a context.Context the run context is passed there, and if its
// last (non-variadic) parameter is a map[string]any it receives the keyword
// arguments. Supported result shapes are (), (T), (error) and (T, error).
//
// Nothing is checked here: a non-function, a wrong argument count or an
// argument of the wrong type fails when the work runs.
func Func(fn any) WorkFunc {
	return func(ctx context.Context, args Args) (any, error) {
		return call(ctx, fn, args)
	}
}

func call(ctx context.Context, fn any, args Args) (any, error) {
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func || v.IsNil() {
		return nil, fmt.Errorf("%w: %T", ErrNotFunc, fn)
	}
	t := v.Type()

	in, err := bindArgs(ctx, t, args)
	if err != nil {
		return nil, err
	}

	return mapResults(v.Call(in))
}

func bindArgs(ctx context.Context, t reflect.Type, args Args) ([]reflect.Value, error) {
	params := make([]reflect.Type, t.NumIn())
	for i := range params {
		params[i] = t.In(i)
	}

	var in []reflect.Value
	if len(params) > 0 && params[0] == contextType {
		in = append(in, reflect.ValueOf(&ctx).Elem())
		params = params[1:]
	}

	wantKeyword := !t.IsVariadic() && len(params) > 0 && params[len(params)-1] == keywordType
	if wantKeyword {
		params = params[:len(params)-1]
	}

	positional := args.Positional
	switch {
	case t.IsVariadic():
		if len(positional) < len(params)-1 {
			return nil, fmt.Errorf("%w: want at least %d, got %d", ErrArity, len(params)-1, len(positional))
		}
	case len(positional) != len(params):
		return nil, fmt.Errorf("%w: want %d, got %d", ErrArity, len(params), len(positional))
	}

	for i, arg := range positional {
		var want reflect.Type
		if t.IsVariadic() && i >= len(params)-1 {
			want = params[len(params)-1].Elem()
		} else {
			want = params[i]
		}
		val, err := convertArg(arg, want)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		in = append(in, val)
	}

	if wantKeyword {
		kw := args.Keyword
		if kw == nil {
			kw = map[string]any{}
		}
		in = append(in, reflect.ValueOf(kw))
	}

	return in, nil
}

func convertArg(arg any, want reflect.Type) (reflect.Value, error) {
	if arg == nil {
		switch want.Kind() {
		case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Pointer, reflect.Slice:
			return reflect.Zero(want), nil
		default:
			return reflect.Value{}, fmt.Errorf("%w: nil is not assignable to %s", ErrArgType, want)
		}
	}

	val := reflect.ValueOf(arg)
	if !val.Type().AssignableTo(want) {
		return reflect.Value{}, fmt.Errorf("%w: %s is not assignable to %s", ErrArgType, val.Type(), want)
	}
	return val, nil
}

func mapResults(out []reflect.Value) (any, error) {
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		if out[0].Type() == errorType {
			return nil, asError(out[0])
		}
		return out[0].Interface(), nil
	case 2:
		if out[1].Type() != errorType {
			return nil, fmt.Errorf("%w: second result must be error, got %s", ErrResultShape, out[1].Type())
		}
		if err := asError(out[1]); err != nil {
			return nil, err
		}
		return out[0].Interface(), nil
	default:
		return nil, fmt.Errorf("%w: %d results", ErrResultShape, len(out))
	}
}

func asError(v reflect.Value) error {
	if v.IsNil() {
		return nil
	}
	return v.Interface().(error)
}
