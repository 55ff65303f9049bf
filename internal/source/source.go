package source

import (
	"context"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("item not found upstream")

// FetchError is returned when the measurement for an item cannot be obtained,
// either because the source is unreachable or because it does not know the item.
type FetchError struct {
	ItemID string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch measurement for %s: %v", e.ItemID, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NotFound reports whether the upstream source does not know the item.
func (e *FetchError) NotFound() bool {
	return errors.Is(e.Err, ErrNotFound)
}

type Source interface {
	FetchCurrentMeasurement(ctx context.Context, itemID string) (int64, error)
}
