package kv

import "fmt"

// UnavailableError indicates the storage backend could not serve the
// operation. Transient: the caller should retry the same operation.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("kv %s unavailable: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}
