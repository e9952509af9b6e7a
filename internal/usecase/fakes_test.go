package usecase

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"go-clinic-queue/internal/delivery/http/middleware"
	"go-clinic-queue/internal/domain/entity"
	"go-clinic-queue/internal/scheduling"
	"go-clinic-queue/internal/service"
	"go-clinic-queue/pkg/clock"
	"go-clinic-queue/pkg/metrics"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// newMockDB returns a gorm handle backed by sqlmock. The fake repositories never touch it;
// only transaction boundaries reach the mock.
func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

type redisFixture struct {
	mr         *miniredis.Miniredis
	client     *redis.Client
	clock      *clock.Fake
	queueState *service.QueueStateService
	broker     *service.QueueEventBroker
	breaks     *service.BreakService
	metrics    *metrics.Metrics
}

func newRedisFixture(t *testing.T) *redisFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	mr.SetTime(testNow)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	log := testLogger()
	fc := clock.NewFake(testNow)
	m := metrics.NewNop()
	queueState := service.NewQueueStateService(client, fc, time.UTC, time.Second, log)
	t.Cleanup(queueState.Stop)
	broker := service.NewQueueEventBroker(client, log)

	return &redisFixture{
		mr:         mr,
		client:     client,
		clock:      fc,
		queueState: queueState,
		broker:     broker,
		breaks:     service.NewBreakService(client, broker, fc, m, time.Minute, log),
		metrics:    m,
	}
}

func asUser(userID uuid.UUID, roleID int) context.Context {
	return middleware.WithIdentity(context.Background(), userID, roleID)
}

// =============================================================================
// Repositories
// =============================================================================

type fakeAppointmentRepo struct {
	mu           sync.Mutex
	appointments map[uuid.UUID]*entity.Appointment
	created      int
	failOrderFor map[uuid.UUID]bool
	createErr    error
}

func newFakeAppointmentRepo(appointments ...entity.Appointment) *fakeAppointmentRepo {
	r := &fakeAppointmentRepo{
		appointments: make(map[uuid.UUID]*entity.Appointment),
		failOrderFor: make(map[uuid.UUID]bool),
	}
	r.seed(appointments...)
	return r
}

func (r *fakeAppointmentRepo) seed(appointments ...entity.Appointment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range appointments {
		a := appointments[i]
		if a.ID == uuid.Nil {
			a.ID = uuid.New()
		}
		if a.Status == "" {
			a.Status = entity.AppointmentStatusScheduled
		}
		r.appointments[a.ID] = &a
	}
}

func (r *fakeAppointmentRepo) get(id uuid.UUID) entity.Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.appointments[id]
}

func (r *fakeAppointmentRepo) CreateBatch(db *gorm.DB, appointments []*entity.Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	for _, a := range appointments {
		if a.ID == uuid.Nil {
			a.ID = uuid.New()
		}
		stored := *a
		r.appointments[a.ID] = &stored
		r.created++
	}
	return nil
}

func (r *fakeAppointmentRepo) FindByID(db *gorm.DB, id uuid.UUID) (*entity.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, nil
	}
	out := *a
	return &out, nil
}

func (r *fakeAppointmentRepo) filter(keep func(*entity.Appointment) bool) []entity.Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entity.Appointment
	for _, a := range r.appointments {
		if keep(a) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Time != out[j].Time {
			return out[i].Time < out[j].Time
		}
		return out[i].TokenNumber < out[j].TokenNumber
	})
	return out
}

func (r *fakeAppointmentRepo) FindByDoctorAndDate(db *gorm.DB, doctorID uuid.UUID, date time.Time) ([]entity.Appointment, error) {
	return r.filter(func(a *entity.Appointment) bool {
		return a.DoctorID == doctorID && scheduling.SameDay(a.Date, date)
	}), nil
}

func (r *fakeAppointmentRepo) FindBySession(db *gorm.DB, doctorID uuid.UUID, date time.Time, session scheduling.Session) ([]entity.Appointment, error) {
	return r.filter(func(a *entity.Appointment) bool {
		return a.DoctorID == doctorID && scheduling.SameDay(a.Date, date) && a.Session == session
	}), nil
}

func (r *fakeAppointmentRepo) FindByPatientIDs(db *gorm.DB, patientIDs []uuid.UUID) ([]entity.Appointment, error) {
	wanted := make(map[uuid.UUID]bool, len(patientIDs))
	for _, id := range patientIDs {
		wanted[id] = true
	}
	return r.filter(func(a *entity.Appointment) bool { return wanted[a.PatientID] }), nil
}

func (r *fakeAppointmentRepo) UpdateQueueOrder(db *gorm.DB, id uuid.UUID, order *int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOrderFor[id] {
		return errors.New("connection reset")
	}
	a, ok := r.appointments[id]
	if !ok || !a.IsLive() {
		return gorm.ErrRecordNotFound
	}
	if order == nil {
		a.QueueOrder = nil
		return nil
	}
	o := *order
	a.QueueOrder = &o
	return nil
}

func (r *fakeAppointmentRepo) ClearQueueOrder(db *gorm.DB, doctorID uuid.UUID, date time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, a := range r.appointments {
		if a.DoctorID == doctorID && scheduling.SameDay(a.Date, date) && a.IsLive() && a.QueueOrder != nil {
			a.QueueOrder = nil
			n++
		}
	}
	return n, nil
}

func (r *fakeAppointmentRepo) MarkCheckedIn(db *gorm.DB, id uuid.UUID, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok || !a.IsLive() || a.CheckedInAt != nil {
		return 0, nil
	}
	a.CheckedInAt = &at
	return 1, nil
}

func (r *fakeAppointmentRepo) TransitionStatus(db *gorm.DB, id uuid.UUID, to entity.AppointmentStatus) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok || !a.IsLive() {
		return 0, nil
	}
	a.Status = to
	a.QueueOrder = nil
	return 1, nil
}

type fakeDoctorRepo struct {
	doctors map[uuid.UUID]*entity.DoctorProfile
}

func newFakeDoctorRepo(doctors ...entity.DoctorProfile) *fakeDoctorRepo {
	r := &fakeDoctorRepo{doctors: make(map[uuid.UUID]*entity.DoctorProfile)}
	for i := range doctors {
		d := doctors[i]
		r.doctors[d.UserID] = &d
	}
	return r
}

func (r *fakeDoctorRepo) FindByUserID(db *gorm.DB, userID uuid.UUID) (*entity.DoctorProfile, error) {
	d, ok := r.doctors[userID]
	if !ok {
		return nil, nil
	}
	out := *d
	return &out, nil
}

func (r *fakeDoctorRepo) FindAll(db *gorm.DB) ([]entity.DoctorProfile, error) {
	out := make([]entity.DoctorProfile, 0, len(r.doctors))
	for _, d := range r.doctors {
		out = append(out, *d)
	}
	return out, nil
}

type fakePatientRepo struct {
	patients map[uuid.UUID]entity.PatientProfile
}

func newFakePatientRepo(patients ...entity.PatientProfile) *fakePatientRepo {
	r := &fakePatientRepo{patients: make(map[uuid.UUID]entity.PatientProfile)}
	for _, p := range patients {
		r.patients[p.UserID] = p
	}
	return r
}

func (r *fakePatientRepo) FindByUserID(db *gorm.DB, userID uuid.UUID) (*entity.PatientProfile, error) {
	p, ok := r.patients[userID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *fakePatientRepo) FindByUserIDs(db *gorm.DB, userIDs []uuid.UUID) ([]entity.PatientProfile, error) {
	var out []entity.PatientProfile
	for _, id := range userIDs {
		if p, ok := r.patients[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *fakePatientRepo) FindByFamilyGroupID(db *gorm.DB, familyGroupID uuid.UUID) ([]entity.PatientProfile, error) {
	var out []entity.PatientProfile
	for _, p := range r.patients {
		if p.FamilyGroupID != nil && *p.FamilyGroupID == familyGroupID {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeOverrideRepo struct {
	mu        sync.Mutex
	overrides []entity.ScheduleOverride
	nextID    int
}

func (r *fakeOverrideRepo) Create(db *gorm.DB, override *entity.ScheduleOverride) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	override.ID = r.nextID
	r.overrides = append(r.overrides, *override)
	return nil
}

func (r *fakeOverrideRepo) FindByID(db *gorm.DB, id int) (*entity.ScheduleOverride, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.overrides {
		if r.overrides[i].ID == id {
			out := r.overrides[i]
			return &out, nil
		}
	}
	return nil, nil
}

func (r *fakeOverrideRepo) FindByDoctorAndDate(db *gorm.DB, doctorID uuid.UUID, date time.Time) ([]entity.ScheduleOverride, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entity.ScheduleOverride
	for _, o := range r.overrides {
		if o.DoctorID == doctorID && scheduling.SameDay(o.Date, date) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *fakeOverrideRepo) FindAll(db *gorm.DB, filter *entity.OverrideFilter) ([]entity.ScheduleOverride, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entity.ScheduleOverride
	for _, o := range r.overrides {
		if filter != nil && filter.DoctorID != nil && o.DoctorID != *filter.DoctorID {
			continue
		}
		if filter != nil && filter.From != nil && scheduling.DaysBetween(*filter.From, o.Date) < 0 {
			continue
		}
		if filter != nil && filter.To != nil && scheduling.DaysBetween(o.Date, *filter.To) < 0 {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (r *fakeOverrideRepo) Delete(db *gorm.DB, id int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.overrides {
		if r.overrides[i].ID == id {
			r.overrides = append(r.overrides[:i], r.overrides[i+1:]...)
			return 1, nil
		}
	}
	return 0, nil
}

type fakeAssignmentRepo struct {
	assignments []entity.AssistantAssignment
}

func (r *fakeAssignmentRepo) FindByAssistantID(db *gorm.DB, assistantID uuid.UUID) ([]entity.AssistantAssignment, error) {
	var out []entity.AssistantAssignment
	for _, a := range r.assignments {
		if a.AssistantID == assistantID {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakeUserRepo struct {
	users map[uuid.UUID]entity.User
}

func (r *fakeUserRepo) FindByEmail(db *gorm.DB, email string) (*entity.User, error) {
	for _, u := range r.users {
		if u.Email == email {
			out := u
			return &out, nil
		}
	}
	return nil, nil
}

func (r *fakeUserRepo) FindByID(db *gorm.DB, id uuid.UUID) (*entity.User, error) {
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

// =============================================================================
// Audit
// =============================================================================

type fakeAuditService struct {
	mu      sync.Mutex
	actions []string
}

func (s *fakeAuditService) add(action string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, action)
}

func (s *fakeAuditService) recorded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.actions...)
}

func (s *fakeAuditService) LogCreate(ctx context.Context, tx *gorm.DB, userID *uuid.UUID, action string, entityName string, entityID string, newValue interface{}) error {
	s.add(action)
	return nil
}

func (s *fakeAuditService) LogUpdate(ctx context.Context, tx *gorm.DB, userID *uuid.UUID, action string, entityName string, entityID string, oldValue, newValue interface{}) error {
	s.add(action)
	return nil
}

func (s *fakeAuditService) LogDelete(ctx context.Context, tx *gorm.DB, userID *uuid.UUID, action string, entityName string, entityID string, oldValue interface{}) error {
	s.add(action)
	return nil
}

func (s *fakeAuditService) LogAction(ctx context.Context, userID *uuid.UUID, action string, entityName string, entityID string, details interface{}) {
	s.add(action)
}
