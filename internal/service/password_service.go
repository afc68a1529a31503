package service

// Credential is the stored password material Verify checks against.
type Credential interface {
	GetAlgo() string
	GetHash() []byte
	GetSalt() []byte
	GetParamsJSON() []byte
	GetPasswordVer() int
}

type HashedPassword struct {
	Algo       string
	Hash       []byte
	Salt       []byte
	ParamsJSON []byte
	Version    int
}

type PasswordService interface {
	Hash(password string) (*HashedPassword, error)
	Verify(password string, cred Credential) (rehashNeeded bool, ok bool)
	// VerifyDummy burns the same work as Verify so unknown usernames are not
	// distinguishable by timing.
	VerifyDummy(password string)
}
