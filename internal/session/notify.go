package session

import "log/slog"

// Level is the severity of a user-visible notification.
type Level int

const (
	// LevelInfo reports progress or success.
	LevelInfo Level = iota
	// LevelError reports a failed user action.
	LevelError
)

// Notifier shows transient messages to the user, like a toast.
type Notifier interface {
	Notify(level Level, message string)
}

// LogNotifier writes notifications to a logger.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier. A nil logger uses slog.Default.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(level Level, message string) {
	if level == LevelError {
		n.logger.Error(message)
		return
	}
	n.logger.Info(message)
}
