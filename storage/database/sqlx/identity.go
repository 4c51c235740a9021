package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/identity"
)

const (
	uniqueViolation = "23505"

	identityColumns = `id, COALESCE(registration_number, '') AS registration_number,
		COALESCE(student_number, '') AS student_number, email, full_name, role, department, created_at`

	credentialColumns = `id, COALESCE(identity_id::text, '') AS identity_id, email,
		COALESCE(registration_number, '') AS registration_number, COALESCE(student_number, '') AS student_number,
		name, role, department, password_hash, is_active, created_at, updated_at, last_login`
)

type identityRepository struct {
	exec core.DBExecutor
}

var _ identity.Repository = (*identityRepository)(nil) // interface compliance check

func NewIdentityRepository(exec core.DBExecutor) *identityRepository {
	return &identityRepository{exec: exec}
}

func (repo identityRepository) getExec(svcExec []core.DBExecutor) core.DBExecutor {
	if len(svcExec) > 0 {
		return svcExec[0]
	}
	return repo.exec
}

// trapNoRowsErr maps psql "no rows" err to identity.ErrNotFound
func (repo identityRepository) trapNoRowsErr(err error, msg string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return identity.ErrNotFound
	}
	return wrapErr(err, msg)
}

// wrapErr reports a closed connection as a shutdown error.
func wrapErr(err error, msg string) error {
	if errors.Is(err, sql.ErrConnDone) {
		return errors.Wrap(core.NewShutdownError("database connection closed"), msg)
	}
	return errors.Wrap(err, msg)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// Identities

func (repo identityRepository) CreateIdentities(ctx context.Context, ids []identity.UserIdentity, exec ...core.DBExecutor) (int, error) {
	q := `INSERT INTO user_identity (id, registration_number, student_number, email, full_name, role, department, created_at)
		VALUES (:id, NULLIF(:registration_number, ''), NULLIF(:student_number, ''), :email, :full_name, :role, :department, :created_at)
		ON CONFLICT DO NOTHING`

	exe := repo.getExec(exec)
	var n int
	for _, ui := range ids {
		res, err := sqlx.NamedExecContext(ctx, exe, q, ui)
		if err != nil {
			return n, errors.Wrapf(err, "inserting identity %s", ui.Email)
		}
		if cnt, err := res.RowsAffected(); err == nil {
			n += int(cnt)
		}
	}
	return n, nil
}

func (repo identityRepository) FindStudent(ctx context.Context, f identity.StudentFields, exec ...core.DBExecutor) (identity.UserIdentity, error) {
	q := `SELECT ` + identityColumns + ` FROM user_identity
		WHERE role = $1 AND registration_number = $2 AND student_number = $3 AND email = $4`

	var ui identity.UserIdentity
	err := repo.getExec(exec).GetContext(ctx, &ui, q, identity.RoleStudent, f.RegistrationNumber, f.StudentNumber, f.Email)
	if err != nil {
		return identity.UserIdentity{}, repo.trapNoRowsErr(err, "finding student identity")
	}
	return ui, nil
}

func (repo identityRepository) GetIdentityByEmail(ctx context.Context, email string, exec ...core.DBExecutor) (identity.UserIdentity, error) {
	q := `SELECT ` + identityColumns + ` FROM user_identity WHERE email = $1`

	var ui identity.UserIdentity
	if err := repo.getExec(exec).GetContext(ctx, &ui, q, email); err != nil {
		return identity.UserIdentity{}, repo.trapNoRowsErr(err, "finding identity by email")
	}
	return ui, nil
}

// Credentials

func (repo identityRepository) CreateCredential(ctx context.Context, cred identity.Credential, exec ...core.DBExecutor) (identity.Credential, error) {
	if cred.ID == "" {
		cred.ID = uuid.NewString()
	}
	q := `INSERT INTO credential (id, identity_id, email, registration_number, student_number, name, role,
			department, password_hash, is_active, created_at, updated_at, last_login)
		VALUES (:id, CAST(NULLIF(:identity_id, '') AS uuid), :email, NULLIF(:registration_number, ''), NULLIF(:student_number, ''),
			:name, :role, :department, :password_hash, :is_active, :created_at, :updated_at, :last_login)`

	if _, err := sqlx.NamedExecContext(ctx, repo.getExec(exec), q, cred); err != nil {
		if isUniqueViolation(err) {
			return identity.Credential{}, &identity.ExistsError{Identifier: cred.Email}
		}
		return identity.Credential{}, wrapErr(err, "inserting credential")
	}
	return cred, nil
}

func (repo identityRepository) GetCredential(ctx context.Context, filter identity.GetFilter, exec ...core.DBExecutor) (identity.Credential, error) {
	var (
		cred identity.Credential
		err  error
	)
	exe := repo.getExec(exec)

	switch {
	case filter.ID != "":
		if _, err = uuid.Parse(filter.ID); err != nil {
			return identity.Credential{}, identity.ErrNotFound
		}
		q := `SELECT ` + credentialColumns + ` FROM credential WHERE id = $1`
		err = exe.GetContext(ctx, &cred, q, filter.ID)
	case filter.Identifier != "":
		q := `SELECT ` + credentialColumns + ` FROM credential
			WHERE email = $1 OR registration_number = $1 OR student_number = $1 LIMIT 1`
		err = exe.GetContext(ctx, &cred, q, filter.Identifier)
	default:
		return identity.Credential{}, identity.ErrNotFound
	}
	if err != nil {
		return identity.Credential{}, repo.trapNoRowsErr(err, "finding credential")
	}
	return cred, nil
}

func (repo identityRepository) CredentialExists(ctx context.Context, identifiers []string, exec ...core.DBExecutor) (bool, error) {
	q := `SELECT EXISTS (SELECT 1 FROM credential
		WHERE email = ANY($1) OR registration_number = ANY($1) OR student_number = ANY($1))`

	var exists bool
	if err := repo.getExec(exec).GetContext(ctx, &exists, q, pq.Array(identifiers)); err != nil {
		return false, wrapErr(err, "checking credential existence")
	}
	return exists, nil
}

func (repo identityRepository) UpdateCredential(ctx context.Context, cred identity.Credential, exec ...core.DBExecutor) (identity.Credential, error) {
	q := `UPDATE credential SET name = $2, department = $3, password_hash = $4, is_active = $5,
			updated_at = $6, last_login = $7
		WHERE id = $1
		RETURNING ` + credentialColumns

	var updated identity.Credential
	err := repo.getExec(exec).GetContext(
		ctx, &updated, q,
		cred.ID, cred.Name, cred.Department, cred.PasswordHash, cred.IsActive, cred.UpdatedAt.UTC(), cred.LastLogin,
	)
	if err != nil {
		return identity.Credential{}, repo.trapNoRowsErr(err, "updating credential")
	}
	return updated, nil
}

// Codes

func (repo identityRepository) SaveCode(ctx context.Context, otc identity.OneTimeCode, exec ...core.DBExecutor) error {
	if otc.ID == "" {
		otc.ID = uuid.NewString()
	}
	q := `INSERT INTO one_time_code (id, target, purpose, code_hash, issued_at, expires_at, consumed_at)
		VALUES (:id, :target, :purpose, :code_hash, :issued_at, :expires_at, NULL)
		ON CONFLICT (target, purpose) DO UPDATE
		SET id = EXCLUDED.id, code_hash = EXCLUDED.code_hash, issued_at = EXCLUDED.issued_at,
			expires_at = EXCLUDED.expires_at, consumed_at = NULL`

	if _, err := sqlx.NamedExecContext(ctx, repo.getExec(exec), q, otc); err != nil {
		return wrapErr(err, "saving code")
	}
	return nil
}

func (repo identityRepository) ConsumeCode(
	ctx context.Context, target string, purpose identity.Purpose, codeHash string, now time.Time, exec ...core.DBExecutor,
) (bool, error) {
	q := `UPDATE one_time_code SET consumed_at = $4
		WHERE target = $1 AND purpose = $2 AND code_hash = $3 AND consumed_at IS NULL AND expires_at > $4`

	res, err := repo.getExec(exec).ExecContext(ctx, q, target, purpose, codeHash, now.UTC())
	if err != nil {
		return false, wrapErr(err, "consuming code")
	}
	cnt, err := res.RowsAffected()
	if err != nil {
		return false, wrapErr(err, "consuming code")
	}
	return cnt == 1, nil
}
