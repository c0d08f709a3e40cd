package services

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockLocker struct {
	mock.Mock
}

func (m *MockLocker) Acquire(ctx context.Context, key string) (func(), error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(func()), args.Error(1)
}

type MockSubmitter struct {
	mock.Mock
}

// Submit runs f inline when the expectation returns true
func (m *MockSubmitter) Submit(f func()) bool {
	args := m.Called(f)
	accepted := args.Bool(0)
	if accepted {
		f()
	}
	return accepted
}
