package watcher

import "context"

// Watcher reports changed source files with debouncing and pause/resume support.
type Watcher interface {
	// Start begins watching, calling callback with each debounced batch of
	// changed paths. The batch is sorted and free of duplicates.
	Start(ctx context.Context, callback func(files []string)) error

	// Stop stops the watcher and waits for its goroutine to exit.
	Stop() error

	// Pause stops firing callbacks but continues accumulating events.
	Pause()

	// Resume resumes firing callbacks. If events accumulated during pause, fires immediately.
	Resume()
}
