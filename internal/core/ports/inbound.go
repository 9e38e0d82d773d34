package ports

// PipelineController exposes cooperative pause, resume and cancel to
// external control channels.
type PipelineController interface {
	Pause()
	Resume()
	Cancel()
}
