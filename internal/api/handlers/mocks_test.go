package handlers_test

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"greendrake/referral/internal/models"
	"greendrake/referral/internal/services"
	"greendrake/referral/internal/tasks"
	"greendrake/referral/internal/utils"
)

// --- Mocks ---

// MockUserService
type MockUserService struct {
	mock.Mock
}

func (m *MockUserService) FindByID(ctx context.Context, userID utils.SixID) (*models.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) ListByRole(ctx context.Context, role models.Role) ([]models.User, error) {
	args := m.Called(ctx, role)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.User), args.Error(1)
}

func (m *MockUserService) Create(ctx context.Context, in services.NewUser) (*models.User, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	args := m.Called(ctx, email, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) SuspendUser(ctx context.Context, userIDToSuspend, adminUserID utils.SixID) error {
	args := m.Called(ctx, userIDToSuspend, adminUserID)
	return args.Error(0)
}

func (m *MockUserService) UnsuspendUser(ctx context.Context, userIDToUnsuspend utils.SixID) error {
	args := m.Called(ctx, userIDToUnsuspend)
	return args.Error(0)
}

// MockWorkflowService
type MockWorkflowService struct {
	mock.Mock
}

func (m *MockWorkflowService) RequestAccess(ctx context.Context, agentID, preMarketRequestID utils.SixID) (*models.GrantAccessRequest, error) {
	args := m.Called(ctx, agentID, preMarketRequestID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.GrantAccessRequest), args.Error(1)
}

func (m *MockWorkflowService) AdminDecide(ctx context.Context, adminID, grantID utils.SixID, in services.AdminDecisionInput) (*models.GrantAccessRequest, error) {
	args := m.Called(ctx, adminID, grantID, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.GrantAccessRequest), args.Error(1)
}

func (m *MockWorkflowService) AdminReject(ctx context.Context, adminID, grantID utils.SixID, notes string) (*models.GrantAccessRequest, error) {
	args := m.Called(ctx, adminID, grantID, notes)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.GrantAccessRequest), args.Error(1)
}

func (m *MockWorkflowService) CreatePaymentIntent(ctx context.Context, agentID, grantID utils.SixID) (*services.PaymentIntentResult, error) {
	args := m.Called(ctx, agentID, grantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.PaymentIntentResult), args.Error(1)
}

func (m *MockWorkflowService) HandlePaymentWebhook(ctx context.Context, payload []byte, signatureHeader string) (services.WebhookOutcome, error) {
	args := m.Called(ctx, payload, signatureHeader)
	return args.Get(0).(services.WebhookOutcome), args.Error(1)
}

func (m *MockWorkflowService) HandlePaymentSucceeded(ctx context.Context, ev *services.PaymentEvent) (services.WebhookOutcome, error) {
	args := m.Called(ctx, ev)
	return args.Get(0).(services.WebhookOutcome), args.Error(1)
}

func (m *MockWorkflowService) HandlePaymentFailed(ctx context.Context, ev *services.PaymentEvent) (services.WebhookOutcome, error) {
	args := m.Called(ctx, ev)
	return args.Get(0).(services.WebhookOutcome), args.Error(1)
}

func (m *MockWorkflowService) GetAccessStatus(ctx context.Context, agentID, preMarketRequestID utils.SixID) (models.AccessStatus, error) {
	args := m.Called(ctx, agentID, preMarketRequestID)
	return args.Get(0).(models.AccessStatus), args.Error(1)
}

func (m *MockWorkflowService) GetForAgent(ctx context.Context, agentID, preMarketRequestID utils.SixID) (*models.PreMarketRequest, models.AccessStatus, error) {
	args := m.Called(ctx, agentID, preMarketRequestID)
	if args.Get(0) == nil {
		return nil, models.AccessStatus{}, args.Error(2)
	}
	return args.Get(0).(*models.PreMarketRequest), args.Get(1).(models.AccessStatus), args.Error(2)
}

func (m *MockWorkflowService) ListForAgent(ctx context.Context, agentID utils.SixID, filter services.PreMarketFilter, page services.Page) ([]models.PreMarketRequest, error) {
	args := m.Called(ctx, agentID, filter, page)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.PreMarketRequest), args.Error(1)
}

func (m *MockWorkflowService) ListAgentGrants(ctx context.Context, agentID utils.SixID, status models.GrantAccessStatus, page services.Page) ([]models.GrantAccessRequest, error) {
	args := m.Called(ctx, agentID, status, page)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.GrantAccessRequest), args.Error(1)
}

func (m *MockWorkflowService) ListGrants(ctx context.Context, status models.GrantAccessStatus, page services.Page) ([]models.GrantAccessRequest, error) {
	args := m.Called(ctx, status, page)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.GrantAccessRequest), args.Error(1)
}

// MockPreMarketService
type MockPreMarketService struct {
	mock.Mock
}

func (m *MockPreMarketService) request(args mock.Arguments) (*models.PreMarketRequest, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PreMarketRequest), args.Error(1)
}

func (m *MockPreMarketService) list(args mock.Arguments) ([]models.PreMarketRequest, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.PreMarketRequest), args.Error(1)
}

func (m *MockPreMarketService) Create(ctx context.Context, renter *models.User, in services.PreMarketInput) (*models.PreMarketRequest, error) {
	return m.request(m.Called(ctx, renter, in))
}

func (m *MockPreMarketService) FindByID(ctx context.Context, id utils.SixID) (*models.PreMarketRequest, error) {
	return m.request(m.Called(ctx, id))
}

func (m *MockPreMarketService) ListByRenter(ctx context.Context, renterID utils.SixID, page services.Page) ([]models.PreMarketRequest, error) {
	return m.list(m.Called(ctx, renterID, page))
}

func (m *MockPreMarketService) ListForAgents(ctx context.Context, agentID utils.SixID, matched []utils.SixID, filter services.PreMarketFilter, page services.Page) ([]models.PreMarketRequest, error) {
	return m.list(m.Called(ctx, agentID, matched, filter, page))
}

func (m *MockPreMarketService) ListAll(ctx context.Context, status models.PreMarketStatus, page services.Page) ([]models.PreMarketRequest, error) {
	return m.list(m.Called(ctx, status, page))
}

func (m *MockPreMarketService) UpdateByRenter(ctx context.Context, id, renterID utils.SixID, in services.PreMarketInput) (*models.PreMarketRequest, error) {
	return m.request(m.Called(ctx, id, renterID, in))
}

func (m *MockPreMarketService) UpdateByAdmin(ctx context.Context, id utils.SixID, in services.PreMarketInput) (*models.PreMarketRequest, error) {
	return m.request(m.Called(ctx, id, in))
}

func (m *MockPreMarketService) SetActive(ctx context.Context, id, renterID utils.SixID, active bool) (*models.PreMarketRequest, error) {
	return m.request(m.Called(ctx, id, renterID, active))
}

func (m *MockPreMarketService) SetVisibility(ctx context.Context, id utils.SixID, actor *models.User, visibility models.Visibility) (*models.PreMarketRequest, error) {
	return m.request(m.Called(ctx, id, actor, visibility))
}

func (m *MockPreMarketService) SetStatus(ctx context.Context, id utils.SixID, status models.PreMarketStatus) (*models.PreMarketRequest, error) {
	return m.request(m.Called(ctx, id, status))
}

func (m *MockPreMarketService) SoftDelete(ctx context.Context, id utils.SixID, renterID *utils.SixID) error {
	return m.Called(ctx, id, renterID).Error(0)
}

func (m *MockPreMarketService) HardDelete(ctx context.Context, id utils.SixID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockPreMarketService) MarkViewed(ctx context.Context, id, agentID utils.SixID, viaGrantAccess bool) error {
	return m.Called(ctx, id, agentID, viaGrantAccess).Error(0)
}

func (m *MockPreMarketService) IncMatchCount(ctx context.Context, id utils.SixID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockPreMarketService) DecMatchCount(ctx context.Context, id utils.SixID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockPreMarketService) FindExpirable(ctx context.Context, now time.Time) ([]models.PreMarketRequest, error) {
	return m.list(m.Called(ctx, now))
}

func (m *MockPreMarketService) FindRetirable(ctx context.Context, cutoff time.Time) ([]models.PreMarketRequest, error) {
	return m.list(m.Called(ctx, cutoff))
}

func (m *MockPreMarketService) Expire(ctx context.Context, id utils.SixID, now time.Time) error {
	return m.Called(ctx, id, now).Error(0)
}

func (m *MockPreMarketService) Retire(ctx context.Context, id utils.SixID, now time.Time) error {
	return m.Called(ctx, id, now).Error(0)
}

// MockNoticeService
type MockNoticeService struct {
	mock.Mock
}

func (m *MockNoticeService) Create(ctx context.Context, n *models.Notice) error {
	return m.Called(ctx, n).Error(0)
}

func (m *MockNoticeService) ListForUser(ctx context.Context, userID utils.SixID, unreadOnly bool, page services.Page) ([]models.Notice, error) {
	args := m.Called(ctx, userID, unreadOnly, page)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Notice), args.Error(1)
}

func (m *MockNoticeService) MarkRead(ctx context.Context, userID, noticeID utils.SixID) error {
	return m.Called(ctx, userID, noticeID).Error(0)
}

// MockAdminActionLogService
type MockAdminActionLogService struct {
	mock.Mock
}

func (m *MockAdminActionLogService) Record(ctx context.Context, adminID utils.SixID, action models.AdminAction, targetID, notes string) error {
	return m.Called(ctx, adminID, action, targetID, notes).Error(0)
}

func (m *MockAdminActionLogService) List(ctx context.Context, targetID string, page services.Page) ([]models.AdminActionLog, error) {
	args := m.Called(ctx, targetID, page)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.AdminActionLog), args.Error(1)
}

// MockConfigService implements services.IConfigService
type MockConfigService struct {
	mock.Mock
}

func (m *MockConfigService) GetAll(ctx context.Context) (map[string]interface{}, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]interface{}), args.Error(1)
}

func (m *MockConfigService) Get(ctx context.Context, key string) (interface{}, error) {
	args := m.Called(ctx, key)
	return args.Get(0), args.Error(1)
}

func (m *MockConfigService) GetInt(ctx context.Context, key string, defaultValue int) int {
	return defaultValue
}

func (m *MockConfigService) GetString(ctx context.Context, key string, defaultValue string) string {
	return defaultValue
}

func (m *MockConfigService) GetBool(ctx context.Context, key string, defaultValue bool) bool {
	return defaultValue
}

func (m *MockConfigService) GetFloat64(ctx context.Context, key string, defaultValue float64) float64 {
	return defaultValue
}

func (m *MockConfigService) GetDuration(ctx context.Context, key string, defaultValue time.Duration) time.Duration {
	return defaultValue
}

func (m *MockConfigService) Load(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockConfigService) SubscribeToChanges(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockConfigService) SetConfigValue(ctx context.Context, key string, value interface{}, isPublic bool) error {
	return m.Called(ctx, key, value, isPublic).Error(0)
}

// MockSweeper
type MockSweeper struct {
	mock.Mock
}

func (m *MockSweeper) Run(ctx context.Context) (tasks.SweepResult, error) {
	args := m.Called(ctx)
	return args.Get(0).(tasks.SweepResult), args.Error(1)
}
