package rtsp

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/icholy/digest"
)

// authState tracks what a 401 challenge taught us, so that every request
// after the first can preemptively carry an Authorization header instead
// of round-tripping a 401 every time (spec.md §4.1).
type authState struct {
	scheme    string // "digest" or "basic"
	challenge *digest.Challenge
	nonceUses uint32
}

// authorize sets the Authorization header on req if credentials and a
// known auth scheme are available. Grounded on the teacher's
// DigestAuthServer (digest_auth.go), generalized from the server side
// (issuing challenges) to the client side (answering them).
func (s *Session) authorize(method, uri string, req *requestBuilder) error {
	if s.cfg.Credentials == nil || s.auth == nil {
		return nil
	}

	switch s.auth.scheme {
	case "basic":
		token := base64.StdEncoding.EncodeToString(
			[]byte(s.cfg.Credentials.Username + ":" + s.cfg.Credentials.Password))
		req.header.Set("Authorization", "Basic "+token)
		return nil
	case "digest":
		s.auth.nonceUses++
		cred, err := digest.Digest(s.auth.challenge, digest.Options{
			Method:   method,
			URI:      uri,
			Count:    int(s.auth.nonceUses),
			Username: s.cfg.Credentials.Username,
			Password: s.cfg.Credentials.Password,
		})
		if err != nil {
			return fmt.Errorf("rtsp: building digest response: %w", err)
		}
		req.header.Set("Authorization", cred.String())
		return nil
	default:
		return nil
	}
}

// learnChallenge records a 401 response's WWW-Authenticate header so the
// next attempt of the same request can answer it. Basic is recognized
// only when no Digest challenge is present, preferring the stronger
// scheme.
func (s *Session) learnChallenge(wwwAuthenticate []string) error {
	for _, h := range wwwAuthenticate {
		if len(h) >= 6 && strings.EqualFold(h[:6], "digest") {
			chal, err := digest.ParseChallenge(h)
			if err != nil {
				return fmt.Errorf("%w: parsing WWW-Authenticate: %v", ErrUnauthorized, err)
			}
			s.auth = &authState{scheme: "digest", challenge: chal}
			return nil
		}
	}
	for _, h := range wwwAuthenticate {
		if len(h) >= 5 && strings.EqualFold(h[:5], "basic") {
			s.auth = &authState{scheme: "basic"}
			return nil
		}
	}
	return fmt.Errorf("%w: no supported auth scheme in WWW-Authenticate", ErrUnauthorized)
}
