package mocks

import (
	"testing"

	"go.uber.org/mock/gomock"
)

// NewMockGatewayForTest creates a new mock Gateway wired to the test lifecycle.
func NewMockGatewayForTest(t *testing.T) *MockGateway {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)
	return NewMockGateway(ctrl)
}

// NewMockRouterForTest creates a new mock Router wired to the test lifecycle.
func NewMockRouterForTest(t *testing.T) *MockRouter {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)
	return NewMockRouter(ctrl)
}

// NewMockPriceSourceForTest creates a new mock price Source wired to the test lifecycle.
func NewMockPriceSourceForTest(t *testing.T) *MockPriceSource {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)
	return NewMockPriceSource(ctrl)
}

// NewMockLocatorForTest creates a new mock Locator wired to the test lifecycle.
func NewMockLocatorForTest(t *testing.T) *MockLocator {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)
	return NewMockLocator(ctrl)
}
