package message

import (
	"fmt"
	"reflect"
	"unicode"

	"github.com/pkg/errors"
)

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// ErrorName returns the kind name reported in ErrorMetadata.Name: the Name()
// of the first error in the chain that has one, otherwise the type name of the
// innermost error.
func ErrorName(err error) string {
	if err == nil {
		return ""
	}
	var n interface{ Name() string }
	if errors.As(err, &n) {
		return n.Name()
	}

	root := err
	for next := errors.Unwrap(root); next != nil; next = errors.Unwrap(root) {
		root = next
	}
	t := reflect.TypeOf(root)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if name := t.Name(); name != "" && unicode.IsUpper(rune(name[0])) {
		return name
	}
	return "Error"
}

// Traceback renders err followed by the stack it carries. Errors without a
// stack get one captured at the call site, so the result is never empty.
func Traceback(err error) string {
	if err == nil {
		return ""
	}
	var st stackTracer
	if !errors.As(err, &st) {
		st = errors.WithStack(err).(stackTracer)
	}
	return fmt.Sprintf("%s%+v", err.Error(), st.StackTrace())
}
