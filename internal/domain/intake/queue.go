package intake

import "context"

// Item is one unit of work handed to a queue ItemHandler. Succeeded is the
// number of earlier items whose handler returned nil.
type Item[T any] struct {
	Index     int
	Value     T
	Succeeded int
}

// ItemHandler processes one item. A returned error marks the item failed; it
// never stops the queue.
type ItemHandler[T any] func(ctx context.Context, item Item[T]) error

// ItemError records a failed item.
type ItemError[T any] struct {
	Index int
	Value T
	Err   error
}

// QueueResult is the outcome of a full run.
type QueueResult[T any] struct {
	Succeeded int
	Failed    int
	Errors    []ItemError[T]
}

// Queue runs an ItemHandler over items strictly in order, one at a time. An item
// is finished before the next one starts.
type Queue[T any] struct {
	handler ItemHandler[T]
}

func NewQueue[T any](h ItemHandler[T]) *Queue[T] {
	return &Queue[T]{handler: h}
}

// Run processes every item regardless of individual failures.
func (q *Queue[T]) Run(ctx context.Context, items []T) QueueResult[T] {
	var res QueueResult[T]
	for i, v := range items {
		err := q.handler(ctx, Item[T]{Index: i, Value: v, Succeeded: res.Succeeded})
		if err != nil {
			res.Failed++
			res.Errors = append(res.Errors, ItemError[T]{Index: i, Value: v, Err: err})
			continue
		}
		res.Succeeded++
	}
	return res
}
