package session

// Event is emitted by the Registry.
type Event interface {
	Name() string
	sessionEvent()
}

type Ready struct {
	ProjectID string
}

type Disconnected struct {
	ProjectID string
}

// Timeout reports a continuation whose deadline passed before the project
// became ready. It is not retried.
type Timeout struct {
	ProjectID string
	Err       error
}

func (Ready) Name() string        { return "project_ready" }
func (Disconnected) Name() string { return "project_disconnected" }
func (Timeout) Name() string      { return "project_timeout" }

func (Ready) sessionEvent()        {}
func (Disconnected) sessionEvent() {}
func (Timeout) sessionEvent()      {}
