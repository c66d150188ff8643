package apply

import "fmt"

// FatalError is the panic value of the applier. A replica that raised it has diverged or cannot
// persist and must not apply anything else.
type FatalError struct {
	PartitionID uint64
	Index       uint64
	Op          string
	Err         error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal apply error on partition %d at index %d (%s): %v", e.PartitionID, e.Index, e.Op, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// fatal logs and panics. It never returns.
func (a *Applier) fatal(index uint64, op string, err error) {
	fatalErrors.Inc()
	fe := &FatalError{PartitionID: a.meta.ID, Index: index, Op: op, Err: err}
	log.Errorf("%v", fe)
	panic(fe)
}
