package session

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"courier/internal/domain"
	"courier/internal/protocol/x3dh"
)

// Archiver drops the ratchet state with one peer device.
type Archiver interface {
	ArchiveSession(peer domain.Username, device domain.DeviceID) error
}

// Service performs X3DH initiation and persists sessions. A session holds
// the root key and the prekey ids the first outgoing message must name so
// the peer can derive the same root.
type Service struct {
	ids      domain.IdentityStore
	sessions domain.SessionStore
	relay    domain.RelayClient
	archiver Archiver
	now      func() time.Time
}

// New constructs a session service. archiver may be nil, in which case
// ResetSession only replaces the stored session.
func New(
	ids domain.IdentityStore,
	sessions domain.SessionStore,
	relay domain.RelayClient,
	archiver Archiver,
) *Service {
	return &Service{
		ids:      ids,
		sessions: sessions,
		relay:    relay,
		archiver: archiver,
		now:      time.Now,
	}
}

// InitiateSession runs X3DH against the peer's current bundle and stores the
// resulting session.
//
// Steps:
//  1. Load our identity.
//  2. Fetch the peer's bundle; the relay hands out at most one one-time prekey.
//  3. Verify the signed prekey and derive the root key as initiator.
//  4. Persist the session for the cipher to bootstrap a ratchet from.
func (s *Service) InitiateSession(
	ctx context.Context,
	passphrase string,
	peer domain.Username,
) (domain.Session, error) {
	id, err := s.ids.LoadIdentity(passphrase)
	if err != nil {
		return domain.Session{}, err
	}

	bundle, err := s.relay.FetchPreKeyBundle(ctx, peer)
	if err != nil {
		return domain.Session{}, fmt.Errorf("fetch bundle for %s: %w", peer, err)
	}

	root, spkID, opkID, eph, err := x3dh.InitiatorRoot(id, bundle)
	if err != nil {
		return domain.Session{}, err
	}

	session := domain.Session{
		PeerUsername:          peer,
		RootKey:               root,
		PeerSignedPreKey:      bundle.SignedPreKey,
		PeerIdentityKey:       bundle.IdentityKey,
		CreatedUTC:            s.now().Unix(),
		SignedPreKeyID:        spkID,
		OneTimePreKeyID:       opkID,
		InitiatorEphemeralKey: eph,
	}
	if err := s.sessions.SaveSession(peer, session); err != nil {
		return domain.Session{}, err
	}
	return session, nil
}

// GetSession returns the stored session with peer.
func (s *Service) GetSession(peer domain.Username) (domain.Session, bool, error) {
	return s.sessions.LoadSession(peer)
}

// ResetSession archives the ratchet with one peer device and initiates a
// fresh session, so the next outgoing message carries prekey framing.
func (s *Service) ResetSession(
	ctx context.Context,
	passphrase string,
	peer domain.Username,
	device domain.DeviceID,
) (domain.Session, error) {
	if s.archiver != nil {
		if err := s.archiver.ArchiveSession(peer, device); err != nil {
			return domain.Session{}, fmt.Errorf("archive session: %w", err)
		}
	}
	session, err := s.InitiateSession(ctx, passphrase, peer)
	if err != nil {
		return domain.Session{}, err
	}
	logrus.WithFields(logrus.Fields{
		"function": "ResetSession",
		"peer":     peer,
		"device":   device,
	}).Info("Archived session and initiated a new one")
	return session, nil
}

// Compile-time assertion that Service implements domain.SessionService.
var _ domain.SessionService = (*Service)(nil)
