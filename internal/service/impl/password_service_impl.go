package impl

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"

	"intralink/internal/service"

	"golang.org/x/crypto/argon2"
)

const algoArgon2id = "argon2id"

// Argon2Params are stored alongside each hash so verification uses the cost
// the hash was created with.
type Argon2Params struct {
	Time    uint32 `json:"t"`
	Memory  uint32 `json:"m"` // KiB
	Threads uint8  `json:"p"`
	KeyLen  uint32 `json:"k"`
	SaltLen uint32 `json:"s"`
}

var DefaultArgon2Params = Argon2Params{Time: 3, Memory: 64 * 1024, Threads: 1, KeyLen: 32, SaltLen: 16}

var _ service.PasswordService = (*PasswordServiceImpl)(nil)

type PasswordServiceImpl struct {
	version int
	params  Argon2Params
	dummy   service.Credential
}

func NewPasswordServiceArgon2id(params Argon2Params) *PasswordServiceImpl {
	p := &PasswordServiceImpl{version: 1, params: params}
	h, err := p.Hash("dummy-password-for-timing")
	if err == nil {
		p.dummy = hashedCredential{h}
	}
	return p
}

func (p *PasswordServiceImpl) Hash(password string) (*service.HashedPassword, error) {
	if password == "" {
		return nil, ErrEmptyPassword
	}
	salt := make([]byte, p.params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	paramsJSON, err := json.Marshal(p.params)
	if err != nil {
		return nil, err
	}
	return &service.HashedPassword{
		Algo:       algoArgon2id,
		Hash:       argon2.IDKey([]byte(password), salt, p.params.Time, p.params.Memory, p.params.Threads, p.params.KeyLen),
		Salt:       salt,
		ParamsJSON: paramsJSON,
		Version:    p.version,
	}, nil
}

func (p *PasswordServiceImpl) Verify(password string, cred service.Credential) (rehashNeeded bool, ok bool) {
	if cred == nil || cred.GetAlgo() != algoArgon2id {
		return false, false
	}
	var stored Argon2Params
	if err := json.Unmarshal(cred.GetParamsJSON(), &stored); err != nil || stored.KeyLen == 0 || stored.Time == 0 {
		return false, false
	}
	calculated := argon2.IDKey([]byte(password), cred.GetSalt(), stored.Time, stored.Memory, stored.Threads, stored.KeyLen)
	ok = subtle.ConstantTimeCompare(calculated, cred.GetHash()) == 1
	return ok && (cred.GetPasswordVer() != p.version || stored != p.params), ok
}

func (p *PasswordServiceImpl) VerifyDummy(password string) {
	if p.dummy != nil {
		_, _ = p.Verify(password, p.dummy)
	}
}

type hashedCredential struct{ h *service.HashedPassword }

func (c hashedCredential) GetAlgo() string       { return c.h.Algo }
func (c hashedCredential) GetHash() []byte       { return c.h.Hash }
func (c hashedCredential) GetSalt() []byte       { return c.h.Salt }
func (c hashedCredential) GetParamsJSON() []byte { return c.h.ParamsJSON }
func (c hashedCredential) GetPasswordVer() int   { return c.h.Version }
