package ratchet

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"
	"maps"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"courier/internal/crypto"
	"courier/internal/domain"
)

const (
	aeadKeySize  = 32
	nonceSize    = chacha20poly1305.NonceSize
	maxSkippedMK = 1000
	// maxSkipAhead bounds how far a single header may advance a chain.
	maxSkipAhead = 2000
)

var (
	// ErrDuplicateMessage is returned for a header whose message key was
	// already consumed.
	ErrDuplicateMessage = errors.New("ratchet: message key already used")
	// ErrTooFarAhead is returned when a header skips more keys than allowed.
	ErrTooFarAhead        = errors.New("ratchet: message index too far ahead")
	ErrBadHeader          = errors.New("ratchet: malformed header")
	errChainUninitialised = errors.New("ratchet: chain key is uninitialised")
)

// InitAsInitiator seeds the sending chain from root using a fresh ratchet key
// and the peer identity public key.
func InitAsInitiator(root []byte, peerIdentity domain.X25519Public) (domain.RatchetState, error) {
	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		return domain.RatchetState{}, err
	}
	dh, err := crypto.DH(priv, peerIdentity)
	if err != nil {
		return domain.RatchetState{}, err
	}
	newRK, sendCK := kdfRK(root, dh[:])
	crypto.Wipe(dh[:])

	return domain.RatchetState{
		RootKey:              newRK,
		DiffieHellmanPrivate: priv,
		DiffieHellmanPublic:  pub,
		// Placeholder until the first remote ratchet key arrives.
		PeerDiffieHellmanPublic: peerIdentity,
		SendChainKey:            sendCK,
		SkippedKeys:             make(map[string][]byte),
	}, nil
}

// InitAsResponder seeds the receiving chain from root using our identity
// private key and the sender's ratchet public key.
func InitAsResponder(root []byte, ourIdentity domain.X25519Private, senderRatchet domain.X25519Public) (domain.RatchetState, error) {
	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		return domain.RatchetState{}, err
	}
	dh, err := crypto.DH(ourIdentity, senderRatchet)
	if err != nil {
		return domain.RatchetState{}, err
	}
	newRK, recvCK := kdfRK(root, dh[:])
	crypto.Wipe(dh[:])

	return domain.RatchetState{
		RootKey:                 newRK,
		DiffieHellmanPrivate:    priv,
		DiffieHellmanPublic:     pub,
		PeerDiffieHellmanPublic: senderRatchet,
		ReceiveChainKey:         recvCK,
		SkippedKeys:             make(map[string][]byte),
	}, nil
}

// Clone returns a deep copy of st. Decrypt mutates state even when the AEAD
// open fails, so callers that must not persist a failed attempt work on a clone.
func Clone(st domain.RatchetState) domain.RatchetState {
	out := st
	out.RootKey = append([]byte(nil), st.RootKey...)
	out.SendChainKey = append([]byte(nil), st.SendChainKey...)
	out.ReceiveChainKey = append([]byte(nil), st.ReceiveChainKey...)
	out.SkippedKeys = maps.Clone(st.SkippedKeys)
	if out.SkippedKeys == nil {
		out.SkippedKeys = make(map[string][]byte)
	}
	return out
}

// Encrypt produces a header and ciphertext, stepping the DH ratchet on the
// first send after responding.
func Encrypt(st *domain.RatchetState, ad, plaintext []byte) (domain.RatchetHeader, []byte, error) {
	if len(st.SendChainKey) == 0 {
		st.PreviousChainLength = st.SendMessageIndex
		st.SendMessageIndex = 0

		newPriv, newPub, err := crypto.GenerateX25519()
		if err != nil {
			return domain.RatchetHeader{}, nil, err
		}
		dh, err := crypto.DH(newPriv, st.PeerDiffieHellmanPublic)
		if err != nil {
			return domain.RatchetHeader{}, nil, err
		}
		rk2, sendCK := kdfRK(st.RootKey, dh[:])
		crypto.Wipe(dh[:])

		st.RootKey = rk2
		st.DiffieHellmanPrivate, st.DiffieHellmanPublic = newPriv, newPub
		st.SendChainKey = sendCK
	}

	mk, err := kdfCKSend(st)
	if err != nil {
		return domain.RatchetHeader{}, nil, err
	}
	h := domain.RatchetHeader{
		DiffieHellmanPublicKey: st.DiffieHellmanPublic.Slice(),
		PreviousChainLength:    st.PreviousChainLength,
		MessageIndex:           st.SendMessageIndex,
	}

	ct, err := seal(mk, h, ad, plaintext)
	crypto.Wipe(mk)
	if err != nil {
		return domain.RatchetHeader{}, nil, err
	}
	st.SendMessageIndex++
	return h, ct, nil
}

// Decrypt uses a skipped key when one matches, steps the DH ratchet on a new
// remote key, then opens the message.
func Decrypt(st *domain.RatchetState, ad []byte, header domain.RatchetHeader, ciphertext []byte) ([]byte, error) {
	if len(header.DiffieHellmanPublicKey) != 32 {
		return nil, ErrBadHeader
	}
	if st.SkippedKeys == nil {
		st.SkippedKeys = make(map[string][]byte)
	}

	var remote domain.X25519Public
	copy(remote[:], header.DiffieHellmanPublicKey)

	keyID := skippedKeyID(remote, header.MessageIndex)
	if mk, ok := st.SkippedKeys[keyID]; ok {
		pt, err := open(mk, header, ad, ciphertext)
		if err != nil {
			return nil, err
		}
		delete(st.SkippedKeys, keyID)
		crypto.Wipe(mk)
		return pt, nil
	}

	if equal32(st.PeerDiffieHellmanPublic[:], remote[:]) {
		if len(st.ReceiveChainKey) > 0 && header.MessageIndex < st.ReceiveMessageIndex {
			return nil, ErrDuplicateMessage
		}
	} else {
		if err := skipUntil(st, header.PreviousChainLength); err != nil {
			return nil, err
		}
		if err := dhStep(st, remote); err != nil {
			return nil, err
		}
	}

	if err := skipUntil(st, header.MessageIndex); err != nil {
		return nil, err
	}
	mk, err := kdfCKRecv(st)
	if err != nil {
		return nil, err
	}
	pt, err := open(mk, header, ad, ciphertext)
	crypto.Wipe(mk)
	if err != nil {
		return nil, err
	}
	st.ReceiveMessageIndex++
	return pt, nil
}

// dhStep advances the receiving chain and then the sending chain for a new
// remote ratchet key.
func dhStep(st *domain.RatchetState, remote domain.X25519Public) error {
	dh, err := crypto.DH(st.DiffieHellmanPrivate, remote)
	if err != nil {
		return err
	}
	rk2, recvCK := kdfRK(st.RootKey, dh[:])
	crypto.Wipe(dh[:])

	newPriv, newPub, err := crypto.GenerateX25519()
	if err != nil {
		return err
	}
	dh2, err := crypto.DH(newPriv, remote)
	if err != nil {
		return err
	}
	rk3, sendCK := kdfRK(rk2, dh2[:])
	crypto.Wipe(dh2[:])

	st.PreviousChainLength = st.SendMessageIndex
	st.SendMessageIndex, st.ReceiveMessageIndex = 0, 0
	st.RootKey = rk3
	st.DiffieHellmanPrivate, st.DiffieHellmanPublic = newPriv, newPub
	st.PeerDiffieHellmanPublic = remote
	st.SendChainKey, st.ReceiveChainKey = sendCK, recvCK
	return nil
}

func seal(mk []byte, header domain.RatchetHeader, ad, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(mk[:aeadKeySize])
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonceFor(header), plaintext, associated(ad, header)), nil
}

func open(mk []byte, header domain.RatchetHeader, ad, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(mk[:aeadKeySize])
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonceFor(header), ciphertext, associated(ad, header))
}

func nonceFor(h domain.RatchetHeader) []byte {
	nonce := make([]byte, nonceSize)
	binary.BigEndian.PutUint32(nonce[nonceSize-4:], h.MessageIndex)
	return nonce
}

func associated(ad []byte, h domain.RatchetHeader) []byte {
	out := make([]byte, 0, len(ad)+len(h.DiffieHellmanPublicKey)+8)
	out = append(out, ad...)
	out = append(out, h.DiffieHellmanPublicKey...)
	out = binary.BigEndian.AppendUint32(out, h.PreviousChainLength)
	out = binary.BigEndian.AppendUint32(out, h.MessageIndex)
	return out
}

// HKDF-based KDFs with labels.
func kdfRK(rk, dh []byte) (newRK, ck []byte) {
	r := hkdf.New(sha256.New, dh, rk, []byte("DR|rk"))
	newRK = make([]byte, 32)
	ck = make([]byte, 32)
	_, _ = io.ReadFull(r, newRK)
	_, _ = io.ReadFull(r, ck)
	return
}

func kdfCK(ck []byte) (nextCK, mk []byte) {
	r := hkdf.New(sha256.New, ck, nil, []byte("DR|ck"))
	nextCK = make([]byte, 32)
	mk = make([]byte, 32)
	_, _ = io.ReadFull(r, nextCK)
	_, _ = io.ReadFull(r, mk)
	return
}

func kdfCKSend(st *domain.RatchetState) ([]byte, error) {
	if len(st.SendChainKey) == 0 {
		return nil, errChainUninitialised
	}
	nextCK, mk := kdfCK(st.SendChainKey)
	st.SendChainKey = nextCK
	return mk, nil
}

func kdfCKRecv(st *domain.RatchetState) ([]byte, error) {
	if len(st.ReceiveChainKey) == 0 {
		return nil, errChainUninitialised
	}
	nextCK, mk := kdfCK(st.ReceiveChainKey)
	st.ReceiveChainKey = nextCK
	return mk, nil
}

func skippedKeyID(peer domain.X25519Public, n uint32) string {
	b := make([]byte, 32, 32+4)
	copy(b, peer[:])
	return string(binary.BigEndian.AppendUint32(b, n))
}

// skipUntil derives and stores receive keys below n, evicting arbitrary old
// keys once the cache is full.
func skipUntil(st *domain.RatchetState, n uint32) error {
	if len(st.ReceiveChainKey) == 0 {
		return nil
	}
	if n > st.ReceiveMessageIndex && n-st.ReceiveMessageIndex > maxSkipAhead {
		return ErrTooFarAhead
	}
	for st.ReceiveMessageIndex < n {
		mk, err := kdfCKRecv(st)
		if err != nil {
			return err
		}
		if len(st.SkippedKeys) >= maxSkippedMK {
			for k := range st.SkippedKeys {
				delete(st.SkippedKeys, k)
				break
			}
		}
		st.SkippedKeys[skippedKeyID(st.PeerDiffieHellmanPublic, st.ReceiveMessageIndex)] = mk
		st.ReceiveMessageIndex++
	}
	return nil
}

func equal32(a, b []byte) bool {
	if len(a) != 32 || len(b) != 32 {
		return false
	}
	var v byte
	for i := 0; i < 32; i++ {
		v |= a[i] ^ b[i]
	}
	return v == 0
}
