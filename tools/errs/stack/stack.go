package stack

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
)

// Error carries the wrapped error together with the call site that wrapped it.
type Error struct {
	err  error
	site string
}

// New wraps err, recording the caller `skip` frames up the stack.
func New(err error, skip int) error {
	if err == nil {
		return nil
	}
	return &Error{err: err, site: callSite(skip)}
}

func (e *Error) Error() string {
	if e.site == "" {
		return e.err.Error()
	}
	return e.err.Error() + " [" + e.site + "]"
}

func (e *Error) Unwrap() error { return e.err }

func (e *Error) Format(f fmt.State, verb rune) {
	switch verb {
	case 'v', 's':
		_, _ = f.Write([]byte(e.Error()))
	case 'q':
		_, _ = f.Write([]byte(strconv.Quote(e.Error())))
	}
}

func callSite(skip int) string {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return ""
	}
	name := ""
	if fn := runtime.FuncForPC(pc); fn != nil {
		name = fn.Name()
		if i := strings.LastIndexByte(name, '/'); i >= 0 {
			name = name[i+1:]
		}
	}
	if i := strings.LastIndexByte(file, '/'); i >= 0 {
		file = file[i+1:]
	}
	return name + " " + file + ":" + strconv.Itoa(line)
}
