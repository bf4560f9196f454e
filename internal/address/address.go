// Package address models the native chain address used to identify nodes,
// peers and safes throughout the orchestrator.
package address

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrEmpty is returned when an address is constructed from an empty string.
var ErrEmpty = errors.New("address: empty value")

// Address is a native chain address. It is stored lowercase-normalized so
// that equality is by value and comparisons never depend on casing supplied
// by an external API. The zero value is not a valid address.
type Address struct {
	value string
}

// Zero is the empty, invalid address.
var Zero = Address{}

// New normalizes s into an Address. It never mutates after construction.
func New(s string) (Address, error) {
	if s == "" {
		return Zero, ErrEmpty
	}
	return Address{value: strings.ToLower(strings.TrimSpace(s))}, nil
}

// MustNew is like New but panics on error; only safe for compile-time
// constants and tests.
func MustNew(s string) Address {
	a, err := New(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String returns the lowercase-normalized form.
func (a Address) String() string { return a.value }

// IsZero reports whether a is the zero value.
func (a Address) IsZero() bool { return a.value == "" }

// Equal compares two addresses by value.
func (a Address) Equal(b Address) bool { return a.value == b.value }

func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.value)
}

func (a *Address) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*a = Zero
		return nil
	}
	na, err := New(s)
	if err != nil {
		return err
	}
	*a = na
	return nil
}

// Set is a convenience collection used by callers that need a deduplicated
// group of addresses (e.g. a node's own addresses, or a peer-history set).
type Set map[Address]struct{}

// NewSet builds a Set from the given addresses.
func NewSet(addrs ...Address) Set {
	s := make(Set, len(addrs))
	for _, a := range addrs {
		s[a] = struct{}{}
	}
	return s
}

// Contains reports whether a is present in the set.
func (s Set) Contains(a Address) bool {
	_, ok := s[a]
	return ok
}

// Add inserts a into the set.
func (s Set) Add(a Address) { s[a] = struct{}{} }

// Remove deletes a from the set.
func (s Set) Remove(a Address) { delete(s, a) }

// Slice returns the set's members in unspecified order.
func (s Set) Slice() []Address {
	out := make([]Address, 0, len(s))
	for a := range s {
		out = append(out, a)
	}
	return out
}
