package inmemdb

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/identity"
)

type codeKey struct {
	target  string
	purpose identity.Purpose
}

// identityRepository keeps identities, credentials and codes in memory.
type identityRepository struct {
	mu          sync.RWMutex
	identities  map[string]identity.UserIdentity // {id: identity}
	credentials map[string]identity.Credential   // {id: credential}
	codes       map[codeKey]identity.OneTimeCode
}

var _ identity.Repository = (*identityRepository)(nil)

func NewIdentityRepository() *identityRepository {
	return &identityRepository{
		identities:  make(map[string]identity.UserIdentity),
		credentials: make(map[string]identity.Credential),
		codes:       make(map[codeKey]identity.OneTimeCode),
	}
}

// Identities

func (repo *identityRepository) CreateIdentities(_ context.Context, ids []identity.UserIdentity, _ ...core.DBExecutor) (int, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	var n int
	for _, ui := range ids {
		if repo.identityTaken(ui) {
			continue
		}
		repo.identities[ui.ID] = ui
		n++
	}
	return n, nil
}

func (repo *identityRepository) identityTaken(ui identity.UserIdentity) bool {
	for _, other := range repo.identities {
		if other.ID == ui.ID || other.Email == ui.Email ||
			(ui.RegistrationNumber != "" && other.RegistrationNumber == ui.RegistrationNumber) ||
			(ui.StudentNumber != "" && other.StudentNumber == ui.StudentNumber) {
			return true
		}
	}
	return false
}

func (repo *identityRepository) FindStudent(_ context.Context, f identity.StudentFields, _ ...core.DBExecutor) (identity.UserIdentity, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	for _, ui := range repo.identities {
		if ui.Role == identity.RoleStudent &&
			ui.RegistrationNumber == f.RegistrationNumber &&
			ui.StudentNumber == f.StudentNumber &&
			ui.Email == f.Email {
			return ui, nil
		}
	}
	return identity.UserIdentity{}, identity.ErrNotFound
}

func (repo *identityRepository) GetIdentityByEmail(_ context.Context, email string, _ ...core.DBExecutor) (identity.UserIdentity, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	for _, ui := range repo.identities {
		if ui.Email == email {
			return ui, nil
		}
	}
	return identity.UserIdentity{}, identity.ErrNotFound
}

// Credentials

func (repo *identityRepository) CreateCredential(_ context.Context, cred identity.Credential, _ ...core.DBExecutor) (identity.Credential, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	if repo.credentialExists(cred.Identifiers()) {
		return identity.Credential{}, &identity.ExistsError{Identifier: cred.Email}
	}
	repo.credentials[cred.ID] = cred
	return cred, nil
}

func (repo *identityRepository) GetCredential(_ context.Context, filter identity.GetFilter, _ ...core.DBExecutor) (identity.Credential, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	if filter.ID != "" {
		if cred, ok := repo.credentials[filter.ID]; ok {
			return cred, nil
		}
		return identity.Credential{}, identity.ErrNotFound
	}
	if filter.Identifier != "" {
		for _, cred := range repo.credentials {
			if matchesIdentifier(cred, filter.Identifier) {
				return cred, nil
			}
		}
	}
	return identity.Credential{}, identity.ErrNotFound
}

func (repo *identityRepository) CredentialExists(_ context.Context, identifiers []string, _ ...core.DBExecutor) (bool, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()
	return repo.credentialExists(identifiers), nil
}

func (repo *identityRepository) credentialExists(identifiers []string) bool {
	for _, cred := range repo.credentials {
		for _, idf := range identifiers {
			if idf != "" && matchesIdentifier(cred, idf) {
				return true
			}
		}
	}
	return false
}

func (repo *identityRepository) UpdateCredential(_ context.Context, cred identity.Credential, _ ...core.DBExecutor) (identity.Credential, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	if _, ok := repo.credentials[cred.ID]; !ok {
		return identity.Credential{}, identity.ErrNotFound
	}
	repo.credentials[cred.ID] = cred
	return cred, nil
}

func matchesIdentifier(cred identity.Credential, idf string) bool {
	return strings.EqualFold(cred.Email, idf) ||
		(cred.RegistrationNumber != "" && strings.EqualFold(cred.RegistrationNumber, idf)) ||
		(cred.StudentNumber != "" && cred.StudentNumber == idf)
}

// Codes

func (repo *identityRepository) SaveCode(_ context.Context, otc identity.OneTimeCode, _ ...core.DBExecutor) error {
	repo.mu.Lock()
	repo.codes[codeKey{otc.Target, otc.Purpose}] = otc
	repo.mu.Unlock()
	return nil
}

func (repo *identityRepository) ConsumeCode(
	_ context.Context, target string, purpose identity.Purpose, codeHash string, now time.Time, _ ...core.DBExecutor,
) (bool, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	key := codeKey{target, purpose}
	otc, ok := repo.codes[key]
	if !ok || !otc.IsLive(now) || otc.CodeHash != codeHash {
		return false, nil
	}
	otc.ConsumedAt = &now
	repo.codes[key] = otc
	return true, nil
}
