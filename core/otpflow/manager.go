package otpflow

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/identity"
)

// stepLockTTL bounds how long a crashed step can keep its flow locked.
const stepLockTTL = 30 * time.Second

// Manager holds flows server side and runs their steps one at a time.
type Manager struct {
	store   Store
	backend Backend
	ttl     time.Duration
	logger  core.Logger
}

func NewManager(store Store, backend Backend, conf *core.Config, logger core.Logger) *Manager {
	return &Manager{
		store:   store,
		backend: backend,
		ttl:     conf.OTP.FlowTTL,
		logger:  logger,
	}
}

func (m *Manager) Get(ctx context.Context, id string) (*Flow, error) {
	return m.store.Get(ctx, id)
}

// begin runs the first step of a new flow and only keeps the flow when it succeeds.
func (m *Manager) begin(ctx context.Context, purpose identity.Purpose, step func(*Flow) error) (*Flow, error) {
	f := NewFlow(purpose)
	if err := step(f); err != nil {
		return nil, err
	}
	if err := m.store.Save(ctx, f, m.ttl); err != nil {
		return nil, errors.Wrap(err, "saving flow")
	}
	return f, nil
}

// step loads flow id under its step lock, applies fn and saves the flow when fn succeeds.
// A concurrent step on the same flow fails with ErrStepInProgress.
func (m *Manager) step(ctx context.Context, id string, fn func(*Flow) error) (*Flow, error) {
	token, ok, err := m.store.Acquire(ctx, id, stepLockTTL)
	if err != nil {
		return nil, errors.Wrap(err, "acquiring flow lock")
	}
	if !ok {
		return nil, ErrStepInProgress
	}
	defer func() {
		// a fresh context: the request's may already be cancelled
		if err := m.store.Release(context.Background(), id, token); err != nil {
			m.logger.Error(fmt.Sprintf("releasing flow lock: %v", err), err)
		}
	}()

	f, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err = fn(f); err != nil {
		return f, err
	}
	if err = m.store.Save(ctx, f, m.ttl); err != nil {
		return nil, errors.Wrap(err, "saving flow")
	}
	return f, nil
}

func (m *Manager) StartStudentSignup(ctx context.Context, fields identity.StudentFields) (*Flow, identity.IssuedCode, error) {
	var code identity.IssuedCode
	f, err := m.begin(ctx, identity.PurposeSignup, func(f *Flow) (err error) {
		code, err = f.SubmitStudent(ctx, m.backend, fields)
		return err
	})
	return f, code, err
}

func (m *Manager) StartLecturerSignup(ctx context.Context, fields identity.LecturerFields) (*Flow, error) {
	return m.begin(ctx, identity.PurposeSignup, func(f *Flow) error {
		return f.SubmitLecturer(ctx, m.backend, fields)
	})
}

func (m *Manager) StartReset(ctx context.Context, identifier string) (*Flow, identity.IssuedCode, error) {
	var code identity.IssuedCode
	f, err := m.begin(ctx, identity.PurposeReset, func(f *Flow) (err error) {
		code, err = f.SubmitResetIdentifier(ctx, m.backend, identifier)
		return err
	})
	return f, code, err
}

// SubmitStudent re-submits student fields on a flow sent back to idle.
func (m *Manager) SubmitStudent(ctx context.Context, id string, fields identity.StudentFields) (*Flow, identity.IssuedCode, error) {
	var code identity.IssuedCode
	f, err := m.step(ctx, id, func(f *Flow) (err error) {
		code, err = f.SubmitStudent(ctx, m.backend, fields)
		return err
	})
	return f, code, err
}

// SubmitLecturer re-submits a lecturer email on a flow sent back to idle.
func (m *Manager) SubmitLecturer(ctx context.Context, id string, fields identity.LecturerFields) (*Flow, error) {
	return m.step(ctx, id, func(f *Flow) error {
		return f.SubmitLecturer(ctx, m.backend, fields)
	})
}

// SubmitResetIdentifier re-submits an identifier on a reset flow sent back to idle.
func (m *Manager) SubmitResetIdentifier(ctx context.Context, id, identifier string) (*Flow, identity.IssuedCode, error) {
	var code identity.IssuedCode
	f, err := m.step(ctx, id, func(f *Flow) (err error) {
		code, err = f.SubmitResetIdentifier(ctx, m.backend, identifier)
		return err
	})
	return f, code, err
}

func (m *Manager) SubmitDetails(ctx context.Context, id string, details identity.LecturerDetails) (*Flow, identity.IssuedCode, error) {
	var code identity.IssuedCode
	f, err := m.step(ctx, id, func(f *Flow) (err error) {
		code, err = f.SubmitDetails(ctx, m.backend, details)
		return err
	})
	return f, code, err
}

func (m *Manager) SubmitCode(ctx context.Context, id, candidate string) (*Flow, error) {
	return m.step(ctx, id, func(f *Flow) error {
		return f.SubmitCode(ctx, m.backend, candidate)
	})
}

func (m *Manager) Resend(ctx context.Context, id string) (*Flow, identity.IssuedCode, error) {
	var code identity.IssuedCode
	f, err := m.step(ctx, id, func(f *Flow) (err error) {
		code, err = f.Resend(ctx, m.backend)
		return err
	})
	return f, code, err
}

func (m *Manager) SubmitPassword(ctx context.Context, id, password, confirm string) (*Flow, identity.Session, error) {
	var sess identity.Session
	f, err := m.step(ctx, id, func(f *Flow) (err error) {
		sess, err = f.SubmitPassword(ctx, m.backend, password, confirm)
		return err
	})
	return f, sess, err
}

func (m *Manager) Back(ctx context.Context, id string) (*Flow, error) {
	return m.step(ctx, id, func(f *Flow) error { return f.Back() })
}

func (m *Manager) Abandon(ctx context.Context, id string) (*Flow, error) {
	return m.step(ctx, id, func(f *Flow) error { return f.Abandon() })
}
