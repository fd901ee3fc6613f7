package logx

// Keys shared across icomet components so log lines can be grepped and
// joined consistently.
const (
	KeyComponent = "comp"
	KeyChannel   = "channel"
	KeyTask      = "task"
)

// Component tags a logger with the component that owns it.
func Component(name string) Field { return String(KeyComponent, name) }

// Channel tags an event with an icomet channel name.
func Channel(name string) Field { return String(KeyChannel, name) }

// Task tags an event with a dispatcher task id.
func Task(id string) Field { return String(KeyTask, id) }
