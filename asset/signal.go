package asset

// Signal is a list of handlers for one kind of engine notification.
// Handlers run synchronously on the goroutine that drives the engine, in
// the order they were connected.
type Signal[T any] struct {
	handlers []func(T)
}

// Connect adds a handler.
func (s *Signal[T]) Connect(fn func(T)) {
	s.handlers = append(s.handlers, fn)
}

// Len returns the number of connected handlers.
func (s *Signal[T]) Len() int {
	return len(s.handlers)
}

func (s *Signal[T]) emit(v T) {
	for _, fn := range s.handlers {
		fn(v)
	}
}

// DiskSourceChange is emitted when the file backing an asset changes.
type DiskSourceChange struct {
	Asset Asset
	Old   string
	New   string
}

// Events are the notifications an Engine emits.
type Events struct {
	AssetCreated               Signal[Asset]
	AssetAboutToBeRemoved      Signal[Asset]
	BundleAboutToBeRemoved     Signal[Bundle]
	DiskSourceAboutToBeRemoved Signal[Asset]
	AssetDiskSourceChanged     Signal[DiskSourceChange]
	AssetUploaded              Signal[string]
	AssetDeletedFromStorage    Signal[string]
	AssetStorageAdded          Signal[*Storage]
}
