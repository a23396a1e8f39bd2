package prekey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"courier/internal/crypto"
	"courier/internal/domain"
)

// Defaults for RefreshPreKeys.
const (
	DefaultMinimum   = 10
	DefaultBatchSize = 100
)

// ErrNoSignedPreKey is returned when no signed prekey has been generated yet.
var ErrNoSignedPreKey = errors.New("no signed prekey available")

// Service manages prekey pairs, builds the public bundle and keeps the
// relay's supply of one-time prekeys topped up.
type Service struct {
	ids     domain.IdentityStore
	prekeys domain.PreKeyStore
	bundles domain.PreKeyBundleStore
	relay   domain.RelayClient

	minimum int
	batch   int
	now     func() time.Time
}

// New returns a prekey service. relay may be nil when only local generation
// is needed; RefreshPreKeys then fails.
func New(
	ids domain.IdentityStore,
	prekeys domain.PreKeyStore,
	bundles domain.PreKeyBundleStore,
	relay domain.RelayClient,
) *Service {
	return &Service{
		ids:     ids,
		prekeys: prekeys,
		bundles: bundles,
		relay:   relay,
		minimum: DefaultMinimum,
		batch:   DefaultBatchSize,
		now:     time.Now,
	}
}

// WithThresholds overrides when a refresh triggers and how many keys it adds.
func (s *Service) WithThresholds(minimum, batch int) *Service {
	if minimum > 0 {
		s.minimum = minimum
	}
	if batch > 0 {
		s.batch = batch
	}
	return s
}

// GenerateAndStorePreKeys rotates the signed prekey and adds count one-time
// pairs. Earlier signed prekeys stay stored so in-flight prekey messages
// still open.
func (s *Service) GenerateAndStorePreKeys(
	passphrase string,
	count int,
) (domain.X25519Public, []domain.X25519Public, error) {
	id, err := s.ids.LoadIdentity(passphrase)
	if err != nil {
		return domain.X25519Public{}, nil, err
	}

	spkPriv, spkPub, err := crypto.GenerateX25519()
	if err != nil {
		return domain.X25519Public{}, nil, err
	}
	defer crypto.Wipe(spkPriv[:])
	spkID := domain.SignedPreKeyID(fmt.Sprintf("spk-%d", s.now().UnixNano()))
	sig := crypto.SignPreKey(id.EdPriv, spkPub)
	if err := s.prekeys.SaveSignedPreKey(spkID, spkPriv, spkPub, sig); err != nil {
		return domain.X25519Public{}, nil, err
	}
	if err := s.prekeys.SetCurrentSignedPreKeyID(spkID); err != nil {
		return domain.X25519Public{}, nil, err
	}

	pairs := make([]domain.OneTimePreKeyPair, 0, count)
	publics := make([]domain.X25519Public, 0, count)
	for i := 0; i < count; i++ {
		priv, pub, err := crypto.GenerateX25519()
		if err != nil {
			return domain.X25519Public{}, nil, err
		}
		pairs = append(pairs, domain.OneTimePreKeyPair{
			ID:   domain.OneTimePreKeyID("opk-" + uuid.NewString()),
			Priv: priv,
			Pub:  pub,
		})
		publics = append(publics, pub)
	}
	if err := s.prekeys.SaveOneTimePreKeys(pairs); err != nil {
		return domain.X25519Public{}, nil, err
	}
	return spkPub, publics, nil
}

// LoadPreKeyBundle assembles the public bundle from the current signed
// prekey and every unconsumed one-time prekey, caches it and returns it.
func (s *Service) LoadPreKeyBundle(passphrase string, username domain.Username) (domain.PreKeyBundle, error) {
	id, err := s.ids.LoadIdentity(passphrase)
	if err != nil {
		return domain.PreKeyBundle{}, err
	}

	spkID, ok, err := s.prekeys.CurrentSignedPreKeyID()
	if err != nil {
		return domain.PreKeyBundle{}, err
	}
	if !ok {
		return domain.PreKeyBundle{}, ErrNoSignedPreKey
	}
	_, spkPub, sig, found, err := s.prekeys.LoadSignedPreKey(spkID)
	if err != nil {
		return domain.PreKeyBundle{}, err
	}
	if !found {
		return domain.PreKeyBundle{}, ErrNoSignedPreKey
	}

	oneTime, err := s.prekeys.ListOneTimePreKeyPublics()
	if err != nil {
		return domain.PreKeyBundle{}, err
	}

	b := domain.PreKeyBundle{
		Username:              username,
		IdentityKey:           id.XPub,
		SigningKey:            id.EdPub,
		SignedPreKeyID:        spkID,
		SignedPreKey:          spkPub,
		SignedPreKeySignature: sig,
		OneTimePreKeys:        oneTime,
	}
	if err := s.bundles.SavePreKeyBundle(b); err != nil {
		return domain.PreKeyBundle{}, err
	}
	return b, nil
}

// RefreshPreKeys asks the relay how many one-time prekeys remain. Below the
// minimum it generates a batch, rotates the signed prekey and registers the
// new bundle.
func (s *Service) RefreshPreKeys(ctx context.Context, passphrase string, username domain.Username) (bool, error) {
	if s.relay == nil {
		return false, errors.New("prekey refresh needs a relay")
	}
	log := logrus.WithFields(logrus.Fields{
		"function": "RefreshPreKeys",
		"username": username,
	})

	count, err := s.relay.FetchPreKeyCount(ctx, username)
	if err != nil {
		return false, fmt.Errorf("fetch prekey count: %w", err)
	}
	if count >= s.minimum {
		log.WithField("count", count).Debug("Enough one-time prekeys")
		return false, nil
	}

	if _, _, err := s.GenerateAndStorePreKeys(passphrase, s.batch); err != nil {
		return false, err
	}
	b, err := s.LoadPreKeyBundle(passphrase, username)
	if err != nil {
		return false, err
	}
	if err := s.relay.RegisterPreKeyBundle(ctx, b); err != nil {
		return false, fmt.Errorf("register bundle: %w", err)
	}
	log.WithFields(logrus.Fields{
		"count": count,
		"added": s.batch,
	}).Info("Refreshed one-time prekeys")
	return true, nil
}

// Compile-time assertion that Service implements domain.PreKeyService.
var _ domain.PreKeyService = (*Service)(nil)
