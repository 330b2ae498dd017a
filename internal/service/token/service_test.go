package token

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"zemichat-backend/internal/domain"
	apperrors "zemichat-backend/pkg/errors"
	"zemichat-backend/pkg/logger"
	"zemichat-backend/pkg/rtctoken"
)

func TestMain(m *testing.M) {
	logger.InitDefault()
	os.Exit(m.Run())
}

type mockUserStore struct {
	mock.Mock
}

func (m *mockUserStore) GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserStore) GetTexterSettings(ctx context.Context, userID uuid.UUID) (*domain.TexterSettings, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.TexterSettings), args.Error(1)
}

type mockMemberStore struct {
	mock.Mock
}

func (m *mockMemberStore) IsMember(ctx context.Context, chatID, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, chatID, userID)
	return args.Bool(0), args.Error(1)
}

type mockPresenceStore struct {
	mock.Mock
}

func (m *mockPresenceStore) Count(ctx context.Context, callLogID uuid.UUID) (int, error) {
	args := m.Called(ctx, callLogID)
	return args.Int(0), args.Error(1)
}

func newTestService(t *testing.T) (*Service, *mockUserStore, *mockMemberStore, *mockPresenceStore) {
	t.Helper()

	users := new(mockUserStore)
	members := new(mockMemberStore)
	presence := new(mockPresenceStore)

	builder, err := rtctoken.NewHMACBuilder("970ca35de60c44645bbae8a215061b33", "5cfd2fd1755d40ecb72977518be15d3b")
	require.NoError(t, err)

	svc := NewService(users, members, presence, builder)
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	return svc, users, members, presence
}

func TestIssueToken_Success(t *testing.T) {
	svc, users, members, presence := newTestService(t)

	userID := uuid.New()
	chatID := uuid.New()
	callLogID := uuid.New()

	members.On("IsMember", mock.Anything, chatID, userID).Return(true, nil)
	users.On("GetByID", mock.Anything, userID).Return(&domain.User{ID: userID, Role: domain.RoleOwner}, nil)
	presence.On("Count", mock.Anything, callLogID).Return(1, nil)

	token, err := svc.IssueToken(context.Background(), userID, chatID, callLogID, domain.CallTypeVoice)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(token.Token, "006970ca35de60c44645bbae8a215061b33"))
	assert.Equal(t, chatID.String(), token.Channel)
	assert.Equal(t, rtctoken.DeriveUID(userID), token.UID)
	assert.Equal(t, "970ca35de60c44645bbae8a215061b33", token.AppID)
}

func TestIssueToken_InvalidCallType(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.IssueToken(context.Background(), uuid.New(), uuid.New(), uuid.New(), domain.CallType("fax"))
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))
}

func TestIssueToken_NotAMember(t *testing.T) {
	svc, users, members, presence := newTestService(t)

	userID := uuid.New()
	chatID := uuid.New()

	members.On("IsMember", mock.Anything, chatID, userID).Return(false, nil)

	_, err := svc.IssueToken(context.Background(), userID, chatID, uuid.New(), domain.CallTypeVoice)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotAMember))

	// Denial happens before any other lookup
	users.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
	presence.AssertNotCalled(t, "Count", mock.Anything, mock.Anything)
}

func TestIssueToken_TexterWithoutCapability(t *testing.T) {
	svc, users, members, presence := newTestService(t)

	userID := uuid.New()
	chatID := uuid.New()

	members.On("IsMember", mock.Anything, chatID, userID).Return(true, nil)
	users.On("GetByID", mock.Anything, userID).Return(&domain.User{ID: userID, Role: domain.RoleTexter}, nil)
	users.On("GetTexterSettings", mock.Anything, userID).Return(&domain.TexterSettings{
		UserID:       userID,
		CanVoiceCall: true,
		CanVideoCall: false,
	}, nil)

	_, err := svc.IssueToken(context.Background(), userID, chatID, uuid.New(), domain.CallTypeVideo)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodePermissionDenied))

	presence.AssertNotCalled(t, "Count", mock.Anything, mock.Anything)
}

func TestIssueToken_TexterWithoutSettingsRow(t *testing.T) {
	svc, users, members, _ := newTestService(t)

	userID := uuid.New()
	chatID := uuid.New()

	members.On("IsMember", mock.Anything, chatID, userID).Return(true, nil)
	users.On("GetByID", mock.Anything, userID).Return(&domain.User{ID: userID, Role: domain.RoleTexter}, nil)
	users.On("GetTexterSettings", mock.Anything, userID).Return(nil, nil)

	_, err := svc.IssueToken(context.Background(), userID, chatID, uuid.New(), domain.CallTypeVoice)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodePermissionDenied))
}

func TestIssueToken_TexterWithCapability(t *testing.T) {
	svc, users, members, presence := newTestService(t)

	userID := uuid.New()
	chatID := uuid.New()
	callLogID := uuid.New()

	members.On("IsMember", mock.Anything, chatID, userID).Return(true, nil)
	users.On("GetByID", mock.Anything, userID).Return(&domain.User{ID: userID, Role: domain.RoleTexter}, nil)
	users.On("GetTexterSettings", mock.Anything, userID).Return(&domain.TexterSettings{
		UserID:       userID,
		CanVoiceCall: true,
	}, nil)
	presence.On("Count", mock.Anything, callLogID).Return(0, nil)

	token, err := svc.IssueToken(context.Background(), userID, chatID, callLogID, domain.CallTypeVoice)
	require.NoError(t, err)
	assert.NotEmpty(t, token.Token)
}

func TestIssueToken_CapacityExceeded(t *testing.T) {
	svc, users, members, presence := newTestService(t)

	userID := uuid.New()
	chatID := uuid.New()
	callLogID := uuid.New()

	members.On("IsMember", mock.Anything, chatID, userID).Return(true, nil)
	users.On("GetByID", mock.Anything, userID).Return(&domain.User{ID: userID, Role: domain.RoleSuper}, nil)
	presence.On("Count", mock.Anything, callLogID).Return(4, nil)

	_, err := svc.IssueToken(context.Background(), userID, chatID, callLogID, domain.CallTypeVideo)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeCapacityExceeded))
}

func TestCanScreenShare(t *testing.T) {
	svc, users, _, _ := newTestService(t)

	owner := uuid.New()
	texterAllowed := uuid.New()
	texterDenied := uuid.New()

	users.On("GetByID", mock.Anything, owner).Return(&domain.User{ID: owner, Role: domain.RoleOwner}, nil)
	users.On("GetByID", mock.Anything, texterAllowed).Return(&domain.User{ID: texterAllowed, Role: domain.RoleTexter}, nil)
	users.On("GetTexterSettings", mock.Anything, texterAllowed).Return(&domain.TexterSettings{UserID: texterAllowed, CanScreenShare: true}, nil)
	users.On("GetByID", mock.Anything, texterDenied).Return(&domain.User{ID: texterDenied, Role: domain.RoleTexter}, nil)
	users.On("GetTexterSettings", mock.Anything, texterDenied).Return(nil, nil)

	ok, err := svc.CanScreenShare(context.Background(), owner)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.CanScreenShare(context.Background(), texterAllowed)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.CanScreenShare(context.Background(), texterDenied)
	require.NoError(t, err)
	assert.False(t, ok)
}
