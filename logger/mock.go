package logger

import "github.com/stretchr/testify/mock"

// MockLogger is a testify mock implementing Logger.
//
// With returns the mock itself unless an expectation for "With" is registered.
type MockLogger struct {
	mock.Mock
}

var _ Logger = (*MockLogger)(nil)

// NewMockLogger creates an empty MockLogger.
func NewMockLogger() *MockLogger {
	return &MockLogger{}
}

func (m *MockLogger) Debug(msg string, keysAndValues ...any) {
	m.Called(msg, keysAndValues)
}

func (m *MockLogger) Info(msg string, keysAndValues ...any) {
	m.Called(msg, keysAndValues)
}

func (m *MockLogger) Warn(msg string, keysAndValues ...any) {
	m.Called(msg, keysAndValues)
}

func (m *MockLogger) Error(msg string, keysAndValues ...any) {
	m.Called(msg, keysAndValues)
}

func (m *MockLogger) Fatal(msg string, keysAndValues ...any) {
	m.Called(msg, keysAndValues)
}

func (m *MockLogger) With(keysAndValues ...any) Logger {
	for _, call := range m.ExpectedCalls {
		if call.Method == "With" {
			args := m.Called(keysAndValues)
			l, _ := args.Get(0).(Logger)
			return l
		}
	}

	return m
}

func (m *MockLogger) Level() Level {
	args := m.Called()
	lv, _ := args.Get(0).(Level)

	return lv
}

func (m *MockLogger) SetLevel(level Level) {
	m.Called(level)
}
