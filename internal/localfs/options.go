package localfs

// WalkOptions configures Walk.
type WalkOptions struct {
	// IncludeHidden includes hidden files and directories in the walk.
	IncludeHidden bool
}

// CollectOptions configures Collect.
type CollectOptions struct {
	// IncludeHidden includes dot-files and the contents of dot-directories.
	IncludeHidden bool

	// Concurrency bounds parallel stat and MIME detection. Zero means
	// constants.CollectConcurrency.
	Concurrency int
}
