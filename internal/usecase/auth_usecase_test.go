package usecase

import (
	"context"
	"testing"
	"time"

	"go-clinic-queue/config"
	"go-clinic-queue/internal/delivery/dto"
	"go-clinic-queue/internal/domain/entity"
	"go-clinic-queue/pkg/jwt"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type authFixture struct {
	usecase     AuthUsecase
	redis       *redisFixture
	jwtService  *jwt.JWTService
	audit       *fakeAuditService
	patient     entity.User
	assistant   entity.User
	disabled    entity.User
	family      uuid.UUID
	assignments *fakeAssignmentRepo
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	db, _ := newMockDB(t)
	rf := newRedisFixture(t)

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	inactive := false

	f := &authFixture{
		redis: rf,
		jwtService: jwt.NewJWTService(config.JWTConfig{
			Secret:        "test-secret",
			AccessExpiry:  15 * time.Minute,
			RefreshExpiry: time.Hour,
		}),
		audit:     &fakeAuditService{},
		patient:   entity.User{ID: uuid.New(), RoleID: entity.RoleIDPatient, Email: "patient@clinic.test", Password: string(hash), FullName: "Pat Ient"},
		assistant: entity.User{ID: uuid.New(), RoleID: entity.RoleIDAssistant, Email: "assistant@clinic.test", Password: string(hash), FullName: "Ash Sistant"},
		disabled:  entity.User{ID: uuid.New(), RoleID: entity.RoleIDPatient, Email: "gone@clinic.test", Password: string(hash), IsActive: &inactive},
		family:    uuid.New(),
	}
	doctorID := uuid.New()
	f.assignments = &fakeAssignmentRepo{assignments: []entity.AssistantAssignment{
		{AssistantID: f.assistant.ID, DoctorID: doctorID},
	}}

	users := &fakeUserRepo{users: map[uuid.UUID]entity.User{
		f.patient.ID:   f.patient,
		f.assistant.ID: f.assistant,
		f.disabled.ID:  f.disabled,
	}}
	patients := newFakePatientRepo(entity.PatientProfile{UserID: f.patient.ID, FamilyGroupID: &f.family})

	f.usecase = NewAuthUsecase(db, testLogger(), users, patients, f.assignments, f.jwtService, rf.client, f.audit)
	return f
}

func TestLogin(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	tokens, err := f.usecase.Login(ctx, &dto.LoginRequest{Email: f.patient.Email, Password: "s3cret"})
	require.NoError(t, err)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)
	assert.Equal(t, int64(900), tokens.ExpiresIn)

	claims, err := f.jwtService.ValidateToken(tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, f.patient.ID, claims.UserID)
	assert.True(t, f.redis.mr.Exists(accessTokenKey(f.patient.ID, claims.TokenID)))

	_, err = f.usecase.Login(ctx, &dto.LoginRequest{Email: f.patient.Email, Password: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.usecase.Login(ctx, &dto.LoginRequest{Email: "nobody@clinic.test", Password: "s3cret"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.usecase.Login(ctx, &dto.LoginRequest{Email: f.disabled.Email, Password: "s3cret"})
	assert.ErrorIs(t, err, ErrUserInactive)

	assert.Equal(t, []string{entity.AuditActionUserLogin}, f.audit.recorded())
}

func TestRefreshToken_RotatesOnce(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	tokens, err := f.usecase.Login(ctx, &dto.LoginRequest{Email: f.patient.Email, Password: "s3cret"})
	require.NoError(t, err)

	rotated, err := f.usecase.RefreshToken(ctx, &dto.RefreshTokenRequest{RefreshToken: tokens.RefreshToken})
	require.NoError(t, err)
	assert.NotEqual(t, tokens.RefreshToken, rotated.RefreshToken)

	_, err = f.usecase.RefreshToken(ctx, &dto.RefreshTokenRequest{RefreshToken: tokens.RefreshToken})
	assert.ErrorIs(t, err, ErrTokenRevoked)

	_, err = f.usecase.RefreshToken(ctx, &dto.RefreshTokenRequest{RefreshToken: tokens.AccessToken})
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = f.usecase.RefreshToken(ctx, &dto.RefreshTokenRequest{RefreshToken: "not-a-jwt"})
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestLogout_RevokesBothTokens(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	tokens, err := f.usecase.Login(ctx, &dto.LoginRequest{Email: f.patient.Email, Password: "s3cret"})
	require.NoError(t, err)
	claims, err := f.jwtService.ValidateToken(tokens.AccessToken)
	require.NoError(t, err)

	require.NoError(t, f.usecase.Logout(ctx, f.patient.ID, claims.TokenID, &dto.LogoutRequest{RefreshToken: tokens.RefreshToken}))
	assert.False(t, f.redis.mr.Exists(accessTokenKey(f.patient.ID, claims.TokenID)))

	_, err = f.usecase.RefreshToken(ctx, &dto.RefreshTokenRequest{RefreshToken: tokens.RefreshToken})
	assert.ErrorIs(t, err, ErrTokenRevoked)
}

func TestGetCurrentUser(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	assistant, err := f.usecase.GetCurrentUser(ctx, f.assistant.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.RoleAssistant, assistant.Role)
	assert.Equal(t, []uuid.UUID{f.assignments.assignments[0].DoctorID}, assistant.AssignedDoctorIDs)

	patient, err := f.usecase.GetCurrentUser(ctx, f.patient.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.RolePatient, patient.Role)
	require.NotNil(t, patient.FamilyGroupID)
	assert.Equal(t, f.family, *patient.FamilyGroupID)

	_, err = f.usecase.GetCurrentUser(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrUserNotFound)
}
