package otpflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/trezcool/campus/core/identity"
)

// fakeBackend records calls and issues sequential 4 digit codes.
type fakeBackend struct {
	mu        sync.Mutex
	calls     map[string]int
	students  []identity.UserIdentity
	lecturers map[string]identity.UserIdentity
	accounts  map[string]identity.UserIdentity // {identifier: identity}
	codes     map[string]string                // {target|purpose: code}
	seq       int
	genErr    error

	created []identity.NewCredential
	resets  []string

	// onVerify runs inside VerifyCode, before it answers
	onVerify func()
}

func newFakeBackend() *fakeBackend {
	jane := identity.UserIdentity{
		ID:                 "id-jane",
		RegistrationNumber: "SCT211-0001/2020",
		StudentNumber:      "20200001",
		Email:              "jane.wanjiru@students.campus.ac",
		FullName:           "Jane Wanjiru",
		Role:               identity.RoleStudent,
	}
	return &fakeBackend{
		calls:     make(map[string]int),
		students:  []identity.UserIdentity{jane},
		lecturers: make(map[string]identity.UserIdentity),
		accounts: map[string]identity.UserIdentity{
			jane.Email:         jane,
			jane.StudentNumber: jane,
		},
		codes: make(map[string]string),
	}
}

func (b *fakeBackend) called(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[name]
}

func (b *fakeBackend) record(name string) {
	b.mu.Lock()
	b.calls[name]++
	b.mu.Unlock()
}

// liveCode returns the code last issued to target for purpose.
func (b *fakeBackend) liveCode(target string, purpose identity.Purpose) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.codes[target+"|"+string(purpose)]
}

func (b *fakeBackend) ValidateStudent(_ context.Context, f identity.StudentFields) (identity.UserIdentity, error) {
	b.record("ValidateStudent")
	for _, ui := range b.students {
		if ui.RegistrationNumber == f.RegistrationNumber && ui.StudentNumber == f.StudentNumber && ui.Email == f.Email {
			return ui, nil
		}
	}
	return identity.UserIdentity{}, identity.ErrIdentityNotFound
}

func (b *fakeBackend) ValidateLecturer(_ context.Context, f identity.LecturerFields) (identity.UserIdentity, error) {
	b.record("ValidateLecturer")
	if ui, ok := b.lecturers[f.Email]; ok {
		return ui, nil
	}
	return identity.UserIdentity{Email: f.Email, Role: identity.RoleLecturer}, nil
}

func (b *fakeBackend) LookupForReset(_ context.Context, identifier string) (identity.UserIdentity, error) {
	b.record("LookupForReset")
	if ui, ok := b.accounts[identifier]; ok {
		return ui, nil
	}
	return identity.UserIdentity{}, identity.ErrCredentialNotFound
}

func (b *fakeBackend) GenerateCode(_ context.Context, ui identity.UserIdentity, purpose identity.Purpose) (identity.IssuedCode, error) {
	b.record("GenerateCode")
	if b.genErr != nil {
		return identity.IssuedCode{}, b.genErr
	}
	b.mu.Lock()
	b.seq++
	code := fmt.Sprintf("%04d", b.seq)
	b.codes[ui.Target()+"|"+string(purpose)] = code
	b.mu.Unlock()
	return identity.IssuedCode{
		Target:    ui.Target(),
		Purpose:   purpose,
		Code:      code,
		Length:    len(code),
		ExpiresAt: NowFunc().Add(10 * time.Minute),
	}, nil
}

func (b *fakeBackend) VerifyCode(_ context.Context, target string, purpose identity.Purpose, candidate string) (bool, error) {
	b.record("VerifyCode")
	if b.onVerify != nil {
		b.onVerify()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	key := target + "|" + string(purpose)
	if code, ok := b.codes[key]; ok && code == candidate {
		delete(b.codes, key)
		return true, nil
	}
	return false, nil
}

func (b *fakeBackend) CreateCredential(_ context.Context, nc identity.NewCredential) (identity.Session, error) {
	b.record("CreateCredential")
	b.mu.Lock()
	b.created = append(b.created, nc)
	b.mu.Unlock()
	return identity.Session{
		Token:      "token",
		Credential: identity.Credential{Email: nc.Identity.Email, Name: nc.Identity.FullName, Role: nc.Identity.Role},
	}, nil
}

func (b *fakeBackend) ResetPassword(_ context.Context, target, _ string) (identity.Session, error) {
	b.record("ResetPassword")
	b.mu.Lock()
	b.resets = append(b.resets, target)
	b.mu.Unlock()
	return identity.Session{Token: "token", Credential: identity.Credential{Email: target}}, nil
}
