// Package dbtest holds the behaviour every identity.Repository implementation must share.
package dbtest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/campus/core/identity"
)

// RunIdentityRepositoryTests runs the shared suite. newRepo must return an empty repository.
func RunIdentityRepositoryTests(t *testing.T, newRepo func(t *testing.T) identity.Repository) {
	t.Run("identities", func(t *testing.T) { testIdentities(t, newRepo(t)) })
	t.Run("credentials", func(t *testing.T) { testCredentials(t, newRepo(t)) })
	t.Run("codes", func(t *testing.T) { testCodes(t, newRepo(t)) })
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func newStudent() identity.UserIdentity {
	return identity.UserIdentity{
		ID:                 uuid.NewString(),
		RegistrationNumber: "SCT211-0001/2020",
		StudentNumber:      "20200001",
		Email:              "jane.wanjiru@students.campus.ac",
		FullName:           "Jane Wanjiru",
		Role:               identity.RoleStudent,
		CreatedAt:          now(),
	}
}

func newLecturer() identity.UserIdentity {
	return identity.UserIdentity{
		ID:         uuid.NewString(),
		Email:      "otieno.james@lecturer.com",
		FullName:   "James Otieno",
		Role:       identity.RoleLecturer,
		Department: "Physics",
		CreatedAt:  now(),
	}
}

func testIdentities(t *testing.T, repo identity.Repository) {
	ctx := context.Background()
	student, lecturer := newStudent(), newLecturer()

	n, err := repo.CreateIdentities(ctx, []identity.UserIdentity{student, lecturer})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	dup := newStudent() // new ID, same identifiers
	n, err = repo.CreateIdentities(ctx, []identity.UserIdentity{dup, lecturer})
	require.NoError(t, err)
	assert.Equal(t, 0, n, "imports are idempotent")

	got, err := repo.FindStudent(ctx, identity.StudentFields{
		RegistrationNumber: student.RegistrationNumber,
		StudentNumber:      student.StudentNumber,
		Email:              student.Email,
	})
	require.NoError(t, err)
	assert.Equal(t, student.ID, got.ID)
	assert.Equal(t, student.FullName, got.FullName)

	_, err = repo.FindStudent(ctx, identity.StudentFields{
		RegistrationNumber: student.RegistrationNumber,
		StudentNumber:      "20200002",
		Email:              student.Email,
	})
	assert.Equal(t, identity.ErrNotFound, err)

	_, err = repo.FindStudent(ctx, identity.StudentFields{Email: lecturer.Email})
	assert.Equal(t, identity.ErrNotFound, err, "lecturers are not students")

	got, err = repo.GetIdentityByEmail(ctx, lecturer.Email)
	require.NoError(t, err)
	assert.Equal(t, lecturer.ID, got.ID)
	assert.Equal(t, "Physics", got.Department)
	assert.Empty(t, got.StudentNumber)

	_, err = repo.GetIdentityByEmail(ctx, "nobody@campus.ac")
	assert.Equal(t, identity.ErrNotFound, err)
}

func testCredentials(t *testing.T, repo identity.Repository) {
	ctx := context.Background()
	student := newStudent()
	_, err := repo.CreateIdentities(ctx, []identity.UserIdentity{student})
	require.NoError(t, err)

	ts := now()
	cred := identity.Credential{
		ID:                 uuid.NewString(),
		IdentityID:         student.ID,
		Email:              student.Email,
		RegistrationNumber: student.RegistrationNumber,
		StudentNumber:      student.StudentNumber,
		Name:               student.FullName,
		Role:               identity.RoleStudent,
		IsActive:           true,
		CreatedAt:          ts,
		UpdatedAt:          ts,
	}
	require.NoError(t, cred.SetPassword("correct-horse"))

	_, err = repo.CreateCredential(ctx, cred)
	require.NoError(t, err)

	t.Run("get", func(t *testing.T) {
		filters := []identity.GetFilter{
			{ID: cred.ID},
			{Identifier: cred.Email},
			{Identifier: cred.RegistrationNumber},
			{Identifier: cred.StudentNumber},
		}
		for _, filter := range filters {
			got, err := repo.GetCredential(ctx, filter)
			require.NoError(t, err, "%+v", filter)
			assert.Equal(t, cred.ID, got.ID)
			assert.Equal(t, student.ID, got.IdentityID)
			assert.NoError(t, got.CheckPassword("correct-horse"))
			assert.True(t, got.CreatedAt.Equal(ts))
			assert.Nil(t, got.LastLogin)
		}

		for _, filter := range []identity.GetFilter{{ID: uuid.NewString()}, {ID: "not-a-uuid"}, {Identifier: "20200002"}, {}} {
			_, err := repo.GetCredential(ctx, filter)
			assert.Equal(t, identity.ErrNotFound, err, "%+v", filter)
		}
	})

	t.Run("exists", func(t *testing.T) {
		for _, ids := range [][]string{{cred.Email}, {"x@campus.ac", cred.StudentNumber}, {cred.RegistrationNumber}} {
			exists, err := repo.CredentialExists(ctx, ids)
			require.NoError(t, err)
			assert.True(t, exists, ids)
		}
		exists, err := repo.CredentialExists(ctx, []string{"x@campus.ac", "20200002"})
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("create twice", func(t *testing.T) {
		dup := cred
		dup.ID = uuid.NewString()
		dup.Email = "jane@campus.ac" // same student number
		_, err := repo.CreateCredential(ctx, dup)
		var existsErr *identity.ExistsError
		assert.True(t, errors.As(err, &existsErr), "got %v", err)
	})

	t.Run("update", func(t *testing.T) {
		last := now()
		upd := cred
		upd.IsActive = false
		upd.Name = "Jane W."
		upd.UpdatedAt = last
		upd.LastLogin = &last
		got, err := repo.UpdateCredential(ctx, upd)
		require.NoError(t, err)
		assert.False(t, got.IsActive)
		assert.Equal(t, "Jane W.", got.Name)
		require.NotNil(t, got.LastLogin)
		assert.True(t, got.LastLogin.Equal(last))

		got, err = repo.GetCredential(ctx, identity.GetFilter{ID: cred.ID})
		require.NoError(t, err)
		assert.False(t, got.IsActive)

		upd.ID = uuid.NewString()
		_, err = repo.UpdateCredential(ctx, upd)
		assert.Equal(t, identity.ErrNotFound, err)
	})
}

func testCodes(t *testing.T, repo identity.Repository) {
	ctx := context.Background()
	target, purpose := "jane.wanjiru@students.campus.ac", identity.PurposeSignup
	ts := now()

	save := func(hash string, ttl time.Duration) {
		t.Helper()
		require.NoError(t, repo.SaveCode(ctx, identity.OneTimeCode{
			ID:        uuid.NewString(),
			Target:    target,
			Purpose:   purpose,
			CodeHash:  hash,
			IssuedAt:  ts,
			ExpiresAt: ts.Add(ttl),
		}))
	}
	consume := func(p identity.Purpose, hash string, at time.Time) bool {
		t.Helper()
		ok, err := repo.ConsumeCode(ctx, target, p, hash, at)
		require.NoError(t, err)
		return ok
	}

	save("hash-1", time.Minute)
	assert.False(t, consume(purpose, "hash-x", ts), "wrong code")
	assert.False(t, consume(identity.PurposeReset, "hash-1", ts), "wrong purpose")
	assert.True(t, consume(purpose, "hash-1", ts))
	assert.False(t, consume(purpose, "hash-1", ts), "single use")

	save("hash-2", time.Minute)
	save("hash-3", time.Minute)
	assert.False(t, consume(purpose, "hash-2", ts), "superseded")
	assert.True(t, consume(purpose, "hash-3", ts))

	save("hash-4", time.Minute)
	assert.False(t, consume(purpose, "hash-4", ts.Add(time.Minute)), "expired")
}
