package core

// Logger is any service that can log application events.
// args may contain errors, map[string]interface{} extras and the acting user.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}

// LogUser identifies the user an event relates to.
type LogUser struct {
	ID    string
	Name  string
	Email string
}
