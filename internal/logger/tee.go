package logger

// Logger is the common interface of the loggers in this package.
type Logger interface {
	LogTrace(message string)
	LogDebug(message string)
	LogInfo(message string)
	LogWarn(message string)
	LogError(message string)
}

// Tee fans each message out to every target. The monitor daemon uses it to
// log to the console and the run file at once.
type Tee struct {
	targets []Logger
}

// NewTee creates a Tee over the given loggers. Nil entries are skipped.
func NewTee(targets ...Logger) *Tee {
	t := &Tee{}
	for _, target := range targets {
		if target != nil {
			t.targets = append(t.targets, target)
		}
	}
	return t
}

// LogTrace forwards to every target.
func (t *Tee) LogTrace(message string) {
	for _, target := range t.targets {
		target.LogTrace(message)
	}
}

// LogDebug forwards to every target.
func (t *Tee) LogDebug(message string) {
	for _, target := range t.targets {
		target.LogDebug(message)
	}
}

// LogInfo forwards to every target.
func (t *Tee) LogInfo(message string) {
	for _, target := range t.targets {
		target.LogInfo(message)
	}
}

// LogWarn forwards to every target.
func (t *Tee) LogWarn(message string) {
	for _, target := range t.targets {
		target.LogWarn(message)
	}
}

// LogError forwards to every target.
func (t *Tee) LogError(message string) {
	for _, target := range t.targets {
		target.LogError(message)
	}
}
