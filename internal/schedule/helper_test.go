package schedule_test

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medsched/clinic-scheduling/internal/auth"
	"github.com/medsched/clinic-scheduling/internal/config"
	redisclient "github.com/medsched/clinic-scheduling/internal/redis"
	"github.com/medsched/clinic-scheduling/internal/schedule"
)

// mutexLocker serializes critical sections per doctor-day key in-process,
// standing in for the Redis locker.
type mutexLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newMutexLocker() *mutexLocker {
	return &mutexLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *mutexLocker) WithDoctorDayLock(ctx context.Context, doctorID uuid.UUID, dayKey time.Time, fn func(ctx context.Context) error) error {
	key := doctorID.String() + ":" + dayKey.Format("2006-01-02")

	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	return fn(ctx)
}

// contendedLocker always reports the lock as held by someone else.
type contendedLocker struct {
	attempts int
}

func (l *contendedLocker) WithDoctorDayLock(ctx context.Context, doctorID uuid.UUID, dayKey time.Time, fn func(ctx context.Context) error) error {
	l.attempts++
	return redisclient.ErrLockNotAcquired
}

// interceptRepo wraps the in-memory repository and fires a hook once, right
// after a chosen GetAppointmentByID read returns its (by then possibly
// stale) copy. Tests use it to splice a concurrent writer into a precise
// point of the read-check-write sequence.
type interceptRepo struct {
	*schedule.MemoryRepository
	mu   sync.Mutex
	skip int // reads to pass through before firing
	hook func()
}

func (r *interceptRepo) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*schedule.Appointment, error) {
	appt, err := r.MemoryRepository.GetAppointmentByID(ctx, id)

	r.mu.Lock()
	var fire func()
	if r.hook != nil {
		if r.skip > 0 {
			r.skip--
		} else {
			fire = r.hook
			r.hook = nil
		}
	}
	r.mu.Unlock()

	if fire != nil {
		fire()
	}
	return appt, err
}

type testEnv struct {
	svc     *schedule.Service
	repo    *schedule.MemoryRepository
	doctor  schedule.Doctor
	patient schedule.Patient
}

func testConfig() config.Config {
	return config.Config{
		DefaultDuration: 30,
		LockRetries:     3,
		LockRetryDelay:  time.Millisecond,
	}
}

func newTestEnv() testEnv {
	repo := schedule.NewMemoryRepository()

	doctor := schedule.Doctor{ID: uuid.New(), FirstName: "Nadia", LastName: "Benali"}
	patient := schedule.Patient{ID: uuid.New(), FirstName: "Omar", LastName: "Haddad"}
	repo.AddDoctor(doctor)
	repo.AddPatient(patient)

	svc := schedule.NewService(repo, newMutexLocker(), testConfig(), zerolog.Nop())
	return testEnv{svc: svc, repo: repo, doctor: doctor, patient: patient}
}

var (
	asAdmin        = auth.Identity{UserID: uuid.New(), Role: auth.RoleAdmin}
	asReceptionist = auth.Identity{UserID: uuid.New(), Role: auth.RoleReceptionist}
	asNurse        = auth.Identity{UserID: uuid.New(), Role: auth.RoleNurse}
)

func createRequest(e testEnv, clock string) schedule.CreateRequest {
	return schedule.CreateRequest{
		PatientID: e.patient.ID,
		DoctorID:  e.doctor.ID,
		Date:      day,
		Time:      clock,
	}
}
