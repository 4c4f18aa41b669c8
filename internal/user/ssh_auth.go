package user

import "context"

// SSHAuthenticator adapts Repo to be used as an SSH password authenticator.
type SSHAuthenticator struct {
	repo *Repo
}

// NewSSHAuthenticator creates an SSH authenticator from a user repository.
func NewSSHAuthenticator(repo *Repo) *SSHAuthenticator {
	return &SSHAuthenticator{repo: repo}
}

// Authenticate validates username/password for SSH authentication and
// returns the account id on success. Unknown users and bad passwords both
// yield ok=false without an error so the handshake does not leak which.
func (a *SSHAuthenticator) Authenticate(ctx context.Context, username, password string) (string, bool, error) {
	u, err := a.repo.Authenticate(ctx, username, password)
	if err != nil {
		return "", false, nil
	}
	return u.ID, true, nil
}
