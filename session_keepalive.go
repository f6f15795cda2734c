package rtsp

import (
	"context"
	"time"
)

// maxKeepaliveFailures is how many consecutive keep-alive request failures
// are tolerated before the keep-alive loop stops and sets the session's
// State to StateError, per spec.md §4.6. Each failure is logged; no
// SessionTimeout error is delivered to callers.
const maxKeepaliveFailures = 3

// startKeepalive launches the background ticker that holds the RTSP
// session open while Playing: commodity camera firmware tears down an
// idle session after its advertised timeout, so something must touch the
// control connection periodically, the way the teacher's QualifyLoop
// (register_transaction.go) re-sends REGISTER before its expiry.
func (s *Session) startKeepalive() {
	interval := s.keepaliveInterval()
	s.keepaliveStop = make(chan struct{})
	s.keepaliveDone = make(chan struct{})

	go func() {
		defer close(s.keepaliveDone)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		failures := 0
		for {
			select {
			case <-s.keepaliveStop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RequestTimeout)
				err := s.sendKeepalive(ctx)
				cancel()

				if err != nil {
					failures++
					s.log.Warn().Err(err).Int("failures", failures).Msg("keep-alive request failed")
					if failures >= maxKeepaliveFailures {
						s.state = StateError
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()
}

// keepaliveInterval halves the session timeout (Quirks.SessionTimeout if
// set, else the server's advertised value, else 30s, giving a 15s
// default), per RFC 2326 §12.37's guidance that a client should refresh
// well inside the timeout window, floored at 5s.
func (s *Session) keepaliveInterval() time.Duration {
	t := s.timeout
	if s.cfg.Quirks.SessionTimeout > 0 {
		t = s.cfg.Quirks.SessionTimeout
	}
	if t <= 0 {
		t = 30 * time.Second
	}
	half := t / 2
	if half < 5*time.Second {
		half = 5 * time.Second
	}
	return half
}

// sendKeepalive issues GET_PARAMETER with no body, which RFC 2326 §10.8
// specifies as the preferred no-op keep-alive; Quirks could add an
// OPTIONS fallback for firmware that rejects bodiless GET_PARAMETER, but
// no camera in this client's test matrix has needed that yet.
func (s *Session) sendKeepalive(ctx context.Context) error {
	req := s.newRequest("GET_PARAMETER", s.baseControlURI())
	_, err := s.do(ctx, req)
	return err
}

// stopKeepalive halts the background loop, if running, and waits for it
// to exit.
func (s *Session) stopKeepalive() {
	if s.keepaliveStop == nil {
		return
	}
	close(s.keepaliveStop)
	<-s.keepaliveDone
	s.keepaliveStop = nil
}
