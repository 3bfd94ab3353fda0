package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medsched/clinic-scheduling/internal/api"
	"github.com/medsched/clinic-scheduling/internal/auth"
	"github.com/medsched/clinic-scheduling/internal/config"
	"github.com/medsched/clinic-scheduling/internal/schedule"
)

var jwtSecret = []byte("test-secret")

type mutexLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *mutexLocker) WithDoctorDayLock(ctx context.Context, doctorID uuid.UUID, day time.Time, fn func(ctx context.Context) error) error {
	key := doctorID.String() + ":" + day.Format("2006-01-02")

	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
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

type testServer struct {
	srv     *httptest.Server
	repo    *schedule.MemoryRepository
	doctor  schedule.Doctor
	patient schedule.Patient
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	repo := schedule.NewMemoryRepository()
	doctor := schedule.Doctor{ID: uuid.New(), FirstName: "Nadia", LastName: "Benali"}
	patient := schedule.Patient{ID: uuid.New(), FirstName: "Omar", LastName: "Haddad"}
	repo.AddDoctor(doctor)
	repo.AddPatient(patient)

	cfg := config.Config{
		DefaultDuration: 30,
		LockRetries:     3,
		LockRetryDelay:  time.Millisecond,
	}
	svc := schedule.NewService(repo, &mutexLocker{}, cfg, zerolog.Nop())

	router := api.NewRouter(api.RouterConfig{
		Service:   svc,
		JWTSecret: jwtSecret,
		Env:       "test",
		Version:   "test",
		Logger:    zerolog.Nop(),
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testServer{srv: srv, repo: repo, doctor: doctor, patient: patient}
}

func token(t *testing.T, userID uuid.UUID, role auth.Role) string {
	t.Helper()
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: string(role),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(jwtSecret)
	require.NoError(t, err)
	return signed
}

func (ts *testServer) do(t *testing.T, method, path, bearer string, body any) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, ts.srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := ts.srv.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (ts *testServer) createBody(clock string) map[string]any {
	return map[string]any{
		"patient_id": ts.patient.ID.String(),
		"doctor_id":  ts.doctor.ID.String(),
		"date":       "2024-05-01",
		"time":       clock,
		"reason":     "checkup",
	}
}

func TestCreateAppointmentEndpoint(t *testing.T) {
	ts := newTestServer(t)
	receptionistID := uuid.New()
	bearer := token(t, receptionistID, auth.RoleReceptionist)

	resp := ts.do(t, http.MethodPost, "/appointments", bearer, ts.createBody("09:00"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	created := decode[api.AppointmentResponse](t, resp)
	assert.Equal(t, ts.patient.ID, created.PatientID)
	assert.Equal(t, ts.doctor.ID, created.DoctorID)
	assert.Equal(t, "scheduled", created.Status)
	assert.Equal(t, 30, created.DurationMinutes)
	require.NotNil(t, created.ReceptionistID)
	assert.Equal(t, receptionistID, *created.ReceptionistID)
}

func TestCreateAppointmentEndpoint_Conflict(t *testing.T) {
	ts := newTestServer(t)
	bearer := token(t, uuid.New(), auth.RoleAdmin)

	resp := ts.do(t, http.MethodPost, "/appointments", bearer, ts.createBody("09:00"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = ts.do(t, http.MethodPost, "/appointments", bearer, ts.createBody("09:15"))
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	errResp := decode[api.ErrorResponse](t, resp)
	assert.Equal(t, "scheduling_conflict", errResp.Error)
	require.NotNil(t, errResp.Conflict)
	assert.Equal(t, ts.doctor.ID, errResp.Conflict.DoctorID)
}

func TestCreateAppointmentEndpoint_Validation(t *testing.T) {
	ts := newTestServer(t)
	bearer := token(t, uuid.New(), auth.RoleAdmin)

	body := ts.createBody("25:61")
	resp := ts.do(t, http.MethodPost, "/appointments", bearer, body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_time_format", decode[api.ErrorResponse](t, resp).Error)

	body = ts.createBody("09:00")
	body["patient_id"] = uuid.NewString()
	resp = ts.do(t, http.MethodPost, "/appointments", bearer, body)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "patient_not_found", decode[api.ErrorResponse](t, resp).Error)

	body = ts.createBody("09:00")
	delete(body, "date")
	resp = ts.do(t, http.MethodPost, "/appointments", bearer, body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "missing_fields", decode[api.ErrorResponse](t, resp).Error)
}

func TestCreateAppointmentEndpoint_Auth(t *testing.T) {
	ts := newTestServer(t)

	// no token at all
	resp := ts.do(t, http.MethodPost, "/appointments", "", ts.createBody("09:00"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	// authenticated but read-only role
	resp = ts.do(t, http.MethodPost, "/appointments", token(t, uuid.New(), auth.RoleNurse), ts.createBody("09:00"))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "unauthorized", decode[api.ErrorResponse](t, resp).Error)
}

func TestAppointmentLifecycleEndpoints(t *testing.T) {
	ts := newTestServer(t)
	bearer := token(t, uuid.New(), auth.RoleAdmin)

	resp := ts.do(t, http.MethodPost, "/appointments", bearer, ts.createBody("09:00"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[api.AppointmentResponse](t, resp)

	resp = ts.do(t, http.MethodGet, "/appointments/"+created.ID.String(), bearer, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = ts.do(t, http.MethodPost, fmt.Sprintf("/appointments/%s/confirm", created.ID), bearer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "confirmed", decode[api.AppointmentResponse](t, resp).Status)

	resp = ts.do(t, http.MethodPost, fmt.Sprintf("/appointments/%s/complete", created.ID), bearer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", decode[api.AppointmentResponse](t, resp).Status)

	// completed is terminal
	resp = ts.do(t, http.MethodPost, fmt.Sprintf("/appointments/%s/cancel", created.ID), bearer, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "invalid_status_transition", decode[api.ErrorResponse](t, resp).Error)
}

func TestUpdateAppointmentEndpoint(t *testing.T) {
	ts := newTestServer(t)
	bearer := token(t, uuid.New(), auth.RoleAdmin)

	resp := ts.do(t, http.MethodPost, "/appointments", bearer, ts.createBody("09:00"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	first := decode[api.AppointmentResponse](t, resp)

	resp = ts.do(t, http.MethodPost, "/appointments", bearer, ts.createBody("10:00"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	second := decode[api.AppointmentResponse](t, resp)

	// move second into the first's window
	resp = ts.do(t, http.MethodPatch, "/appointments/"+second.ID.String(), bearer, map[string]any{"time": "09:15"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	// back-to-back works
	resp = ts.do(t, http.MethodPatch, "/appointments/"+second.ID.String(), bearer, map[string]any{"time": "09:30"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "09:30", decode[api.AppointmentResponse](t, resp).Time)

	_ = first
}

func TestAvailabilityEndpoint(t *testing.T) {
	ts := newTestServer(t)
	admin := token(t, uuid.New(), auth.RoleAdmin)
	nurse := token(t, uuid.New(), auth.RoleNurse)

	resp := ts.do(t, http.MethodPost, "/appointments", admin, ts.createBody("09:00"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[api.AppointmentResponse](t, resp)

	// nurses may read availability
	resp = ts.do(t, http.MethodGet, "/availability?date=2024-05-01&time=09:00&duration=30", nurse, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entries := decode[[]api.AvailabilityEntry](t, resp)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Available)

	// busy doctors drop out with only_available
	resp = ts.do(t, http.MethodGet, "/availability?date=2024-05-01&time=09:00&only_available=true", nurse, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]api.AvailabilityEntry](t, resp), 0)

	// cancellation frees the slot
	resp = ts.do(t, http.MethodPost, fmt.Sprintf("/appointments/%s/cancel", created.ID), admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = ts.do(t, http.MethodGet, "/availability?date=2024-05-01&time=09:00&only_available=true", nurse, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]api.AvailabilityEntry](t, resp), 1)
}

func TestAvailabilityEndpoint_BadInput(t *testing.T) {
	ts := newTestServer(t)
	bearer := token(t, uuid.New(), auth.RoleAdmin)

	resp := ts.do(t, http.MethodGet, "/availability?date=yesterday&time=09:00", bearer, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = ts.do(t, http.MethodGet, "/availability?date=2024-05-01&time=9am", bearer, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_time_format", decode[api.ErrorResponse](t, resp).Error)
}

func TestNotifyEndpoint(t *testing.T) {
	ts := newTestServer(t)
	receptionist := token(t, uuid.New(), auth.RoleReceptionist)

	resp := ts.do(t, http.MethodPost, "/appointments", receptionist, ts.createBody("09:00"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[api.AppointmentResponse](t, resp)

	// the assigned doctor signals the receptionist; acting doctor defaults
	// to the caller's own id
	doctorToken := token(t, ts.doctor.ID, auth.RoleDoctor)
	resp = ts.do(t, http.MethodPost, fmt.Sprintf("/appointments/%s/notify", created.ID), doctorToken, map[string]any{
		"type":    "delay",
		"message": "running late",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	n := decode[api.NotificationResponse](t, resp)
	assert.Equal(t, "pending", n.Status)
	assert.Equal(t, created.ID, n.AppointmentID)

	// a different doctor is rejected
	otherDoctor := token(t, uuid.New(), auth.RoleDoctor)
	resp = ts.do(t, http.MethodPost, fmt.Sprintf("/appointments/%s/notify", created.ID), otherDoctor, map[string]any{
		"type":    "delay",
		"message": "nope",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "not_assigned_doctor", decode[api.ErrorResponse](t, resp).Error)
}

func TestHealthEndpointsSkipAuth(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}
