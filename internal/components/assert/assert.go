package assert

import (
	"fmt"
	"reflect"
)

// NotNil panics when value is nil, this includes nil funcs, maps, channels
// and pointers stored in an interface.
func NotNil(value any) {
	if isNil(value) {
		panic(fmt.Sprintf("expected value of type %T to be not nil", value))
	}
}

func isNil(value any) bool {
	if value == nil {
		return true
	}
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Func, reflect.Map, reflect.Chan, reflect.Pointer:
		return v.IsNil()
	}
	return false
}

func NotEmptyStr(str string) {
	if str == "" {
		panic("expected string to be non-empty")
	}
}
