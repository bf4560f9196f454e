package balance

import "errors"

// ErrUnitMismatch is returned when arithmetic is attempted between balances
// of different units.
var ErrUnitMismatch = errors.New("balance: unit mismatch")

// ErrParse is returned when a Balance string fails to parse.
var ErrParse = errors.New("balance: parse error")
