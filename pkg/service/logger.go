package service

// Logger defines the logging interface used by the services
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}
