package schedule

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is a mutex-guarded in-memory Repository used by the test
// suite and the local demo profile. It mirrors the semantics of the Postgres
// implementation, including the compare-and-set status update.
type MemoryRepository struct {
	mu            sync.RWMutex
	patients      map[uuid.UUID]Patient
	doctors       map[uuid.UUID]Doctor
	appointments  map[uuid.UUID]Appointment
	notifications map[uuid.UUID]Notification
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		patients:      make(map[uuid.UUID]Patient),
		doctors:       make(map[uuid.UUID]Doctor),
		appointments:  make(map[uuid.UUID]Appointment),
		notifications: make(map[uuid.UUID]Notification),
	}
}

// AddPatient and AddDoctor populate the directories the engine consumes.

func (r *MemoryRepository) AddPatient(p Patient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	r.patients[p.ID] = p
}

func (r *MemoryRepository) AddDoctor(d Doctor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	r.doctors[d.ID] = d
}

func (r *MemoryRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (r *MemoryRepository) ListDoctors(ctx context.Context) ([]Doctor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Doctor, 0, len(r.doctors))
	for _, d := range r.doctors {
		result = append(result, d)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].LastName != result[j].LastName {
			return result[i].LastName < result[j].LastName
		}
		return result[i].FirstName < result[j].FirstName
	})
	return result, nil
}

func (r *MemoryRepository) ListDoctorDayAppointments(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dayStart := DayStart(day)
	var result []Appointment
	for _, a := range r.appointments {
		if a.DoctorID == doctorID && a.Status != StatusCancelled && a.Date.Equal(dayStart) {
			result = append(result, a)
		}
	}
	return result, nil
}

func (r *MemoryRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *MemoryRepository) CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *a
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	now := time.Now()
	stored.Date = DayStart(stored.Date)
	stored.CreatedAt = now
	stored.UpdatedAt = now

	r.appointments[stored.ID] = stored
	return &stored, nil
}

func (r *MemoryRepository) UpdateAppointment(ctx context.Context, a *Appointment, expectedUpdatedAt time.Time) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.appointments[a.ID]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if !current.UpdatedAt.Equal(expectedUpdatedAt) {
		return nil, ErrStatusChanged
	}

	stored := *a
	stored.Date = DayStart(stored.Date)
	stored.CreatedAt = current.CreatedAt
	stored.UpdatedAt = time.Now()

	r.appointments[stored.ID] = stored
	return &stored, nil
}

func (r *MemoryRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if a.Status != from {
		return nil, ErrStatusChanged
	}

	a.Status = to
	a.UpdatedAt = time.Now()
	r.appointments[id] = a
	return &a, nil
}

func (r *MemoryRepository) CreateNotification(ctx context.Context, n *Notification) (*Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *n
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	stored.Status = NotificationPending
	stored.CreatedAt = time.Now()

	r.notifications[stored.ID] = stored
	return &stored, nil
}

func (r *MemoryRepository) ListPendingNotifications(ctx context.Context, limit int) ([]Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []Notification
	for _, n := range r.notifications {
		if n.Status == NotificationPending {
			result = append(result, n)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *MemoryRepository) MarkNotificationSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.notifications[id]
	if !ok || n.Status != NotificationPending {
		return ErrNotificationNotFound
	}

	n.Status = NotificationSent
	sent := at
	n.SentAt = &sent
	r.notifications[id] = n
	return nil
}
