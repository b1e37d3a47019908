package middleware

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/orbitplan/orbitapi/internal/auth"
	"github.com/orbitplan/orbitapi/internal/services/iam"
)

// MockIAMService is a mock implementation of iam.Service
type MockIAMService struct {
	mock.Mock
}

func (m *MockIAMService) AuthenticateRequest(ctx context.Context, req iam.AuthRequest) (*auth.Principal, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.Principal), args.Error(1)
}

func (m *MockIAMService) BuildContext(ctx context.Context, req iam.ContextRequest) (*auth.RequestContext, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.RequestContext), args.Error(1)
}

func (m *MockIAMService) CanImpersonate(principal *auth.Principal) bool {
	args := m.Called(principal)
	return args.Bool(0)
}

func (m *MockIAMService) HasPermission(scope auth.Scope, role auth.Role, action string) bool {
	args := m.Called(scope, role, action)
	return args.Bool(0)
}

func (m *MockIAMService) AuthorizeOrganization(ctx context.Context, userID, orgID, action string) error {
	args := m.Called(ctx, userID, orgID, action)
	return args.Error(0)
}

func (m *MockIAMService) AuthorizeProject(ctx context.Context, userID, projectID, action string) error {
	args := m.Called(ctx, userID, projectID, action)
	return args.Error(0)
}

func (m *MockIAMService) ReloadPermissions(ctx context.Context, source string) error {
	args := m.Called(ctx, source)
	return args.Error(0)
}

func (m *MockIAMService) PermissionSnapshot() *iam.PermissionSnapshot {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(*iam.PermissionSnapshot)
}

func (m *MockIAMService) RunReloadListener(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockIAMService) IssueLocalToken(ctx context.Context, userID string) (string, error) {
	args := m.Called(ctx, userID)
	return args.String(0), args.Error(1)
}

func (m *MockIAMService) Close() error {
	args := m.Called()
	return args.Error(0)
}
