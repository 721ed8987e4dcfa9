package config

// Bridge routes workspace/didChangeConfiguration notifications into the
// same reload path as file edits: re-read the TOML file and swap the result
// into the store.
type Bridge[T any] struct {
	store    *Store[T]
	filePath string
	defaults *T
}

// NewBridge creates a bridge between workspace configuration and the store.
func NewBridge[T any](store *Store[T], filePath string, defaults *T) *Bridge[T] {
	return &Bridge[T]{
		store:    store,
		filePath: filePath,
		defaults: defaults,
	}
}

// HandleChange reloads the config file and swaps it into the store. Called
// by both the file watcher and the didChangeConfiguration handler.
func (b *Bridge[T]) HandleChange() error {
	cfg, err := LoadTOML[T](b.filePath, b.defaults)
	if err != nil {
		return err
	}
	b.store.Swap(cfg)
	return nil
}
