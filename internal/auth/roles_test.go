package auth_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/medsched/clinic-scheduling/internal/auth"
)

func TestCanModifyAppointments(t *testing.T) {
	assert.True(t, auth.CanModifyAppointments(auth.RoleAdmin))
	assert.True(t, auth.CanModifyAppointments(auth.RoleDoctor))
	assert.True(t, auth.CanModifyAppointments(auth.RoleReceptionist))

	assert.False(t, auth.CanModifyAppointments(auth.RoleNurse))
	assert.False(t, auth.CanModifyAppointments(auth.RolePatient))
	assert.False(t, auth.CanModifyAppointments(auth.Role("janitor")))
	assert.False(t, auth.CanModifyAppointments(auth.Role("")))
}

func TestCanRead(t *testing.T) {
	for _, r := range []auth.Role{auth.RoleAdmin, auth.RoleDoctor, auth.RoleReceptionist, auth.RoleNurse, auth.RolePatient} {
		assert.True(t, auth.CanRead(r))
	}
	assert.False(t, auth.CanRead(auth.Role("")))
}
