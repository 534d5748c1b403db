package securetransport

import (
	"crypto/tls"
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"
)

const sessionBlobVersion = 1

// ErrBadSession is returned by DecodeSession for blobs it cannot parse.
var ErrBadSession = errors.New("securetransport: malformed session blob")

// EncodeSession serializes a client session for transfer between Conns.
//
// Layout: version (1 byte) | ticket length (uint32, big endian) | ticket |
// serialized tls.SessionState.
func EncodeSession(cs *tls.ClientSessionState) ([]byte, error) {
	if cs == nil {
		return nil, ErrNoSession
	}
	ticket, state, err := cs.ResumptionState()
	if err != nil {
		return nil, errors.Wrap(err, "securetransport: export session")
	}
	if state == nil {
		return nil, ErrNoSession
	}
	body, err := state.Bytes()
	if err != nil {
		return nil, errors.Wrap(err, "securetransport: export session")
	}

	blob := make([]byte, 0, 5+len(ticket)+len(body))
	blob = append(blob, sessionBlobVersion)
	blob = binary.BigEndian.AppendUint32(blob, uint32(len(ticket)))
	blob = append(blob, ticket...)
	blob = append(blob, body...)
	return blob, nil
}

// DecodeSession parses a blob produced by EncodeSession.
func DecodeSession(blob []byte) (*tls.ClientSessionState, error) {
	if len(blob) < 5 || blob[0] != sessionBlobVersion {
		return nil, ErrBadSession
	}
	n := binary.BigEndian.Uint32(blob[1:5])
	rest := blob[5:]
	if uint64(n) > uint64(len(rest)) {
		return nil, ErrBadSession
	}
	ticket := rest[:n]
	state, err := tls.ParseSessionState(rest[n:])
	if err != nil {
		return nil, errors.Wrap(ErrBadSession, err.Error())
	}
	cs, err := tls.NewResumptionState(append([]byte(nil), ticket...), state)
	if err != nil {
		return nil, errors.Wrap(ErrBadSession, err.Error())
	}
	return cs, nil
}

// recordingCache sits between the TLS engine and the configured cache. It
// offers a seeded session on the first lookup and remembers the last session
// the peer issued.
type recordingCache struct {
	inner tls.ClientSessionCache

	mu     sync.Mutex
	seed   *tls.ClientSessionState
	seeded bool
	last   *tls.ClientSessionState
}

func (r *recordingCache) Get(key string) (*tls.ClientSessionState, bool) {
	r.mu.Lock()
	if r.seed != nil && !r.seeded {
		r.seeded = true
		cs := r.seed
		r.mu.Unlock()
		return cs, true
	}
	r.mu.Unlock()

	if r.inner == nil {
		return nil, false
	}
	return r.inner.Get(key)
}

func (r *recordingCache) Put(key string, cs *tls.ClientSessionState) {
	r.mu.Lock()
	if cs != nil {
		r.last = cs
	}
	r.mu.Unlock()

	if r.inner != nil {
		r.inner.Put(key, cs)
	}
}

// Evict drops the session stored under key and forgets the recorded one.
func (r *recordingCache) Evict(key string) {
	r.mu.Lock()
	r.last = nil
	r.seed = nil
	r.mu.Unlock()

	if r.inner != nil {
		r.inner.Put(key, nil)
	}
}

// Last returns the most recently issued session, or the seeded one when the
// peer has not issued a new ticket.
func (r *recordingCache) Last() *tls.ClientSessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last != nil {
		return r.last
	}
	return r.seed
}
