package peer

import (
	"math/rand"
	"time"

	"github.com/btcsuite/btcd/wire"
)

// sendPing issues a ping and arms the liveness timeout.
//
// Unlike a PingManager that runs its own internal ticker goroutine and
// tracks RTT continuously via an atomic pointer, ping here is externally
// driven — callers decide when to ping — and only one ping is ever
// outstanding at a time, so this keeps the timer-handle and
// nonce-matching idea but drops the internal ticker goroutine.
//
// wire.MsgPing.Nonce is a uint64; BtcEncode/BtcDecode already omit the
// nonce field entirely at protocol versions at or below BIP0031Version,
// so a nonce-less ping is simply a *wire.MsgPing encoded at that version
// — no separate message type is needed.
func (s *Session) sendPing() {
	pver := s.protocolVersion()

	if pver <= BIP0031Version {
		s.send(&wire.MsgPing{})
		s.mu.Lock()
		s.latencyMs = float64(s.cfg.ConnectionTimeout.Milliseconds())
		s.mu.Unlock()
		return
	}

	nonce := rand.Uint64()

	s.mu.Lock()
	s.lastPingNonce = &nonce
	s.lastPingSendTime = time.Now()
	s.mu.Unlock()

	s.send(wire.NewMsgPing(nonce))
	s.armPingTimeout()
}

func (s *Session) armPingTimeout() {
	s.mu.Lock()
	if s.pingTimeoutTimer != nil {
		s.pingTimeoutTimer.Stop()
	}
	sendTime := s.lastPingSendTime
	s.pingTimeoutTimer = time.AfterFunc(s.cfg.ConnectionTimeout, func() {
		s.mu.Lock()
		stale := s.lastPingSendTime.Equal(sendTime) && s.lastPingNonce != nil
		s.mu.Unlock()
		if stale {
			log.Warnf("%s: ping timed out, closing", s.host)
			s.Close()
		}
	})
	s.mu.Unlock()
}

func (s *Session) cancelPingTimeout() {
	s.mu.Lock()
	if s.pingTimeoutTimer != nil {
		s.pingTimeoutTimer.Stop()
	}
	s.mu.Unlock()
}

// onPing replies with a matching pong when the peer's protocol version
// carries a nonce; at or below BIP0031Version, no reply is sent.
func (s *Session) onPing(m *wire.MsgPing) error {
	if s.protocolVersion() <= BIP0031Version {
		return nil
	}
	s.send(wire.NewMsgPong(m.Nonce))
	return nil
}

// onPong matches a Pong against the outstanding ping nonce and refreshes
// latency; unmatched pongs are ignored.
func (s *Session) onPong(m *wire.MsgPong) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastPingNonce == nil || m.Nonce != *s.lastPingNonce {
		return nil
	}

	s.latencyMs = float64(time.Since(s.lastPingSendTime)) / float64(time.Millisecond)
	s.lastPingNonce = nil

	if s.pingTimeoutTimer != nil {
		s.pingTimeoutTimer.Stop()
	}

	return nil
}
