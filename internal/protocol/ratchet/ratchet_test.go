package ratchet_test

import (
	"bytes"
	"errors"
	"testing"

	"courier/internal/crypto"
	"courier/internal/domain"
	"courier/internal/protocol/ratchet"
)

// makeIdentity returns a fresh X25519 identity pair.
func makeIdentity(t *testing.T) (priv domain.X25519Private, pub domain.X25519Public) {
	t.Helper()
	p, P, err := crypto.GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}
	return p, P
}

// pair returns initiator and responder states sharing a simulated X3DH root.
func pair(t *testing.T) (a, b domain.RatchetState) {
	t.Helper()
	rk := bytes.Repeat([]byte{0x42}, 32)
	bPriv, bPub := makeIdentity(t)

	a, err := ratchet.InitAsInitiator(rk, bPub)
	if err != nil {
		t.Fatalf("InitAsInitiator: %v", err)
	}
	b, err = ratchet.InitAsResponder(rk, bPriv, a.DiffieHellmanPublic)
	if err != nil {
		t.Fatalf("InitAsResponder: %v", err)
	}
	return a, b
}

func TestDoubleRatchet_OneRoundTrip(t *testing.T) {
	aState, bState := pair(t)

	header, ct, err := ratchet.Encrypt(&aState, nil, []byte("hi"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	pt, err := ratchet.Decrypt(&bState, nil, header, ct)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(pt) != "hi" {
		t.Fatalf("got %q, want %q", pt, "hi")
	}

	// Reply steps the ratchet on both sides.
	header, ct, err = ratchet.Encrypt(&bState, nil, []byte("hello"))
	if err != nil {
		t.Fatalf("Encrypt reply: %v", err)
	}
	pt, err = ratchet.Decrypt(&aState, nil, header, ct)
	if err != nil {
		t.Fatalf("Decrypt reply: %v", err)
	}
	if string(pt) != "hello" {
		t.Fatalf("got %q, want %q", pt, "hello")
	}
}

func TestDecrypt_OutOfOrderUsesSkippedKeys(t *testing.T) {
	aState, bState := pair(t)

	type sealed struct {
		h  domain.RatchetHeader
		ct []byte
	}
	var msgs []sealed
	for _, body := range []string{"one", "two", "three"} {
		h, ct, err := ratchet.Encrypt(&aState, nil, []byte(body))
		if err != nil {
			t.Fatalf("Encrypt %s: %v", body, err)
		}
		msgs = append(msgs, sealed{h, ct})
	}

	for _, i := range []int{2, 0, 1} {
		if _, err := ratchet.Decrypt(&bState, nil, msgs[i].h, msgs[i].ct); err != nil {
			t.Fatalf("Decrypt %d: %v", i, err)
		}
	}
	if len(bState.SkippedKeys) != 0 {
		t.Fatalf("want skipped keys drained, got %d", len(bState.SkippedKeys))
	}
}

func TestDecrypt_ReplayIsDuplicate(t *testing.T) {
	aState, bState := pair(t)

	h, ct, err := ratchet.Encrypt(&aState, nil, []byte("once"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := ratchet.Decrypt(&bState, nil, h, ct); err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if _, err := ratchet.Decrypt(&bState, nil, h, ct); !errors.Is(err, ratchet.ErrDuplicateMessage) {
		t.Fatalf("want ErrDuplicateMessage, got %v", err)
	}
}

func TestClone_IsolatesFailedAttempt(t *testing.T) {
	aState, bState := pair(t)

	h, ct, err := ratchet.Encrypt(&aState, nil, []byte("payload"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	tampered := append([]byte(nil), ct...)
	tampered[0] ^= 0xff

	work := ratchet.Clone(bState)
	if _, err := ratchet.Decrypt(&work, nil, h, tampered); err == nil {
		t.Fatal("want error for tampered ciphertext")
	}
	if _, err := ratchet.Decrypt(&bState, nil, h, ct); err != nil {
		t.Fatalf("original state unusable after failed clone attempt: %v", err)
	}
}
