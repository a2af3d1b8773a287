package storage

import (
	"context"
	"io"
	"time"
)

// Remote is a connected client for one storage account. Names are flat file
// names; implementations map them to their own key layout.
type Remote interface {
	// Put uploads size bytes from r in a single request
	Put(ctx context.Context, name string, r io.Reader, size int64) error
	// StartSession begins a chunked upload of name
	StartSession(ctx context.Context, name string) (Session, error)
	// Delete removes name from the account
	Delete(ctx context.Context, name string) error
	// List returns every file name in the account
	List(ctx context.Context) ([]string, error)
	// Space reports the account quota and usage
	Space(ctx context.Context) (Space, error)
	// CreateLink creates (or returns the existing) shareable link for name
	CreateLink(ctx context.Context, name string) (string, error)
	// Link returns an existing shareable link for name. It returns
	// ErrNoLink when the file exists without one.
	Link(ctx context.Context, name string) (string, error)
	// Close releases the client
	Close() error
}

// Session is an in-progress chunked upload
type Session interface {
	// Append uploads the next chunk
	Append(ctx context.Context, chunk []byte) error
	// Finish commits the uploaded chunks as one file
	Finish(ctx context.Context) error
	// Abort discards the uploaded chunks
	Abort(ctx context.Context) error
}

// Space describes the quota of an account in bytes
type Space struct {
	Allocated int64
	Used      int64
}

// Free returns the bytes still available
func (s Space) Free() int64 {
	return s.Allocated - s.Used
}

// Credential is an access credential for one account. A zero Expiry means the
// credential never expires.
type Credential struct {
	ID           string
	Secret       string
	SessionToken string
	Expiry       time.Time
}

// Expired reports whether c expires within margin of now
func (c Credential) Expired(now time.Time, margin time.Duration) bool {
	if c.Expiry.IsZero() {
		return false
	}
	return !now.Add(margin).Before(c.Expiry)
}

// CredentialSource produces fresh credentials for an account
type CredentialSource interface {
	Retrieve(ctx context.Context) (Credential, error)
}

// CredentialSourceFunc adapts a function to CredentialSource
type CredentialSourceFunc func(ctx context.Context) (Credential, error)

// Retrieve implements CredentialSource
func (f CredentialSourceFunc) Retrieve(ctx context.Context) (Credential, error) {
	return f(ctx)
}

// StaticCredentials returns a source that always yields c
func StaticCredentials(c Credential) CredentialSource {
	return CredentialSourceFunc(func(context.Context) (Credential, error) {
		return c, nil
	})
}

// Connector opens a Remote with the given credential
type Connector interface {
	Connect(ctx context.Context, cred Credential) (Remote, error)
}

// ConnectorFunc adapts a function to Connector
type ConnectorFunc func(ctx context.Context, cred Credential) (Remote, error)

// Connect implements Connector
func (f ConnectorFunc) Connect(ctx context.Context, cred Credential) (Remote, error) {
	return f(ctx, cred)
}
