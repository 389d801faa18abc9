package remote

import (
	"github.com/google/go-containerregistry/pkg/authn"
)

// Authenticator provides credentials for registry operations.
type Authenticator interface {
	// Authenticate returns credentials for the given registry. Empty
	// credentials fall back to the default keychain.
	Authenticate(registry string) (username, password string, err error)
}

// Static returns the same credentials for every registry.
type Static struct {
	Username string
	Password string
}

func (s Static) Authenticate(string) (string, string, error) {
	return s.Username, s.Password, nil
}

// authenticator resolves the go-containerregistry authenticator for registry.
func authenticator(auth Authenticator, registry string) (authn.Authenticator, bool, error) {
	if auth == nil {
		return nil, false, nil
	}
	username, password, err := auth.Authenticate(registry)
	if err != nil {
		return nil, false, err
	}
	if username == "" {
		return nil, false, nil
	}
	return &authn.Basic{Username: username, Password: password}, true, nil
}
