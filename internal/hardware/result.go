package hardware

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/thereceipt/pos-hardware/internal/hwerr"
)

// Result is what every boundary operation returns. Errors never escape as
// panics or Go errors; they are folded into Error and ErrorKind.
type Result struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	ErrorKind string      `json:"errorKind,omitempty"`
}

func ok(data interface{}) Result {
	return Result{Success: true, Data: data}
}

func fail(err error) Result {
	return Result{Error: err.Error(), ErrorKind: hwerr.KindOf(err)}
}

// run executes fn and converts its outcome, including a panic, into a Result
func run(op string, fn func() (interface{}, error)) (res Result) {
	defer func() {
		if rec := recover(); rec != nil {
			err := errors.Errorf("%s: panic: %v", op, rec)
			log.Error().Err(err).Str("op", op).Msg("hardware operation panicked")
			res = fail(err)
		}
	}()

	data, err := fn()
	if err != nil {
		log.Warn().Err(err).Str("op", op).Msg("hardware operation failed")
		return fail(err)
	}
	return ok(data)
}
