package otpflow

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/identity"
	logsvc "github.com/trezcool/campus/services/logger"
)

func newTestManager(t *testing.T) (*Manager, *MemoryStore, *fakeBackend) {
	t.Helper()
	conf := core.NewTestConfig()
	logger := logsvc.NewRollbarLogger(logsvc.NewZerolog(conf, io.Discard), conf)
	store := NewMemoryStore()
	b := newFakeBackend()
	return NewManager(store, b, conf, logger), store, b
}

func TestManager_StartOnlyKeepsSuccessfulFlows(t *testing.T) {
	ctx := context.Background()
	mgr, store, _ := newTestManager(t)

	_, _, err := mgr.StartStudentSignup(ctx, identity.StudentFields{Email: janeEmail})
	assert.Error(t, err)
	_, _, err = mgr.StartReset(ctx, "nobody@campus.ac")
	assert.Equal(t, identity.ErrCredentialNotFound, err)
	assert.Empty(t, store.flows)

	f, code, err := mgr.StartStudentSignup(ctx, janeFields)
	require.NoError(t, err)
	assert.Len(t, store.flows, 1)
	assert.Len(t, code.Code, 4)

	got, err := mgr.Get(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCodeIssued, got.State)
	assert.Equal(t, janeEmail, got.Target())
}

func TestManager_StudentSignup(t *testing.T) {
	ctx := context.Background()
	mgr, _, b := newTestManager(t)

	f, code, err := mgr.StartStudentSignup(ctx, janeFields)
	require.NoError(t, err)

	_, err = mgr.SubmitCode(ctx, f.ID, "9999")
	assert.Equal(t, ErrCodeMismatch, err)
	got, err := mgr.Get(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCodeIssued, got.State)

	f, err = mgr.SubmitCode(ctx, f.ID, code.Code)
	require.NoError(t, err)
	assert.Equal(t, StateVerified, f.State)

	f, sess, err := mgr.SubmitPassword(ctx, f.ID, "correct-horse", "")
	require.NoError(t, err)
	assert.Equal(t, StatePasswordSet, f.State)
	assert.Equal(t, janeEmail, sess.Credential.Email)
	assert.Equal(t, 1, b.called("CreateCredential"))

	_, _, err = mgr.SubmitPassword(ctx, f.ID, "correct-horse", "")
	assertTransitionError(t, err, StatePasswordSet)
	assert.Equal(t, 1, b.called("CreateCredential"), "credentials are created once")
}

func TestManager_LecturerSignup(t *testing.T) {
	ctx := context.Background()
	mgr, _, _ := newTestManager(t)

	f, err := mgr.StartLecturerSignup(ctx, identity.LecturerFields{Email: "otieno.james@lecturer.com"})
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingDetails, f.State)

	f, code, err := mgr.SubmitDetails(ctx, f.ID, identity.LecturerDetails{FirstName: "James", LastName: "Otieno", Department: "Physics"})
	require.NoError(t, err)
	assert.Equal(t, StateCodeIssued, f.State)

	f, resent, err := mgr.Resend(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.Resends)
	assert.NotEqual(t, code.Code, resent.Code)

	_, err = mgr.SubmitCode(ctx, f.ID, resent.Code)
	require.NoError(t, err)
	f, _, err = mgr.SubmitPassword(ctx, f.ID, "correct-horse", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, StatePasswordSet, f.State)
}

func TestManager_ResubmitAfterBack(t *testing.T) {
	ctx := context.Background()
	mgr, _, _ := newTestManager(t)

	f, _, err := mgr.StartReset(ctx, janeEmail)
	require.NoError(t, err)

	f, err = mgr.Back(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, f.State)

	f, code, err := mgr.SubmitResetIdentifier(ctx, f.ID, "20200001")
	require.NoError(t, err)
	assert.Equal(t, StateCodeIssued, f.State)
	assert.NotEmpty(t, code.Code)

	f, err = mgr.Abandon(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, StateAbandoned, f.State)

	_, _, err = mgr.SubmitResetIdentifier(ctx, f.ID, "20200001")
	assertTransitionError(t, err, StateAbandoned)

	// a signup flow sent back may switch roles
	f, _, err = mgr.StartStudentSignup(ctx, janeFields)
	require.NoError(t, err)
	_, err = mgr.Back(ctx, f.ID)
	require.NoError(t, err)
	f, err = mgr.SubmitLecturer(ctx, f.ID, identity.LecturerFields{Email: "otieno.james@lecturer.com"})
	require.NoError(t, err)
	assert.Equal(t, identity.RoleLecturer, f.Role)
	_, _, err = mgr.SubmitStudent(ctx, f.ID, janeFields)
	assertTransitionError(t, err, StateAwaitingDetails)
}

func TestManager_FlowNotFound(t *testing.T) {
	ctx := context.Background()
	mgr, _, _ := newTestManager(t)

	_, err := mgr.Get(ctx, "unknown")
	assert.Equal(t, ErrFlowNotFound, err)
	_, err = mgr.SubmitCode(ctx, "unknown", "0001")
	assert.Equal(t, ErrFlowNotFound, err)

	f, _, err := mgr.StartStudentSignup(ctx, janeFields)
	require.NoError(t, err)

	NowFunc = func() time.Time { return time.Now().Add(31 * time.Minute) }
	defer func() { NowFunc = time.Now }()

	_, err = mgr.Get(ctx, f.ID)
	assert.Equal(t, ErrFlowNotFound, err, "flows expire")
}

func TestManager_StepInProgress(t *testing.T) {
	ctx := context.Background()
	mgr, store, b := newTestManager(t)

	f, code, err := mgr.StartStudentSignup(ctx, janeFields)
	require.NoError(t, err)

	entered, unblock := make(chan struct{}), make(chan struct{})
	b.onVerify = func() {
		close(entered)
		<-unblock
	}

	type result struct {
		f   *Flow
		err error
	}
	done := make(chan result)
	go func() {
		f, err := mgr.SubmitCode(ctx, f.ID, code.Code)
		done <- result{f, err}
	}()

	<-entered
	_, err = mgr.SubmitCode(ctx, f.ID, code.Code)
	assert.Equal(t, ErrStepInProgress, err)
	_, _, err = mgr.Resend(ctx, f.ID)
	assert.Equal(t, ErrStepInProgress, err)

	close(unblock)
	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, StateVerified, res.f.State)
	assert.Equal(t, 1, b.called("VerifyCode"))

	// released once the step is over, even when it fails
	b.onVerify = nil
	_, err = mgr.SubmitCode(ctx, f.ID, code.Code)
	assertTransitionError(t, err, StateVerified)
	_, ok, err := store.Acquire(ctx, f.ID, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}
