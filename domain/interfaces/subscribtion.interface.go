package interfaces

// Subscription is a lazily-consumed stream of T with a cancel hook.
type Subscription[T any] struct {
	Stream      chan T
	Unsubscribe func()
	Topic       string
}
