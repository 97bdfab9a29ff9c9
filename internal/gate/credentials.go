package gate

import "time"

// Claims is the decoded credential the gate consumes. Token internals stay
// opaque: issuing and verifying credentials belongs to the platform's auth
// layer, the gate only needs a subject and an expiry.
type Claims struct {
	Subject   string
	ExpiresAt time.Time
}

// CredentialDecoder is the collaborator that turns a raw bearer token into
// claims. A decode failure means the gate treats the request as
// unauthenticated; the upstream signature check still rejects it.
type CredentialDecoder interface {
	Decode(rawToken string) (*Claims, error)
}

// DecoderFunc adapts a plain function to CredentialDecoder.
type DecoderFunc func(rawToken string) (*Claims, error)

func (f DecoderFunc) Decode(rawToken string) (*Claims, error) {
	return f(rawToken)
}
