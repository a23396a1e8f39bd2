package cipher

import (
	"encoding/json"

	"courier/internal/domain"
	domaintypes "courier/internal/domain/types"
)

// DecryptionErrorFor builds the retry receipt for a message we could not
// open. The ratchet key is copied from the original framing when it can be
// parsed, which lets the sender tell which session the failure belongs to.
func DecryptionErrorFor(
	original []byte,
	typ domain.EnvelopeType,
	timestamp int64,
	device domain.DeviceID,
) domain.DecryptionErrorMessage {
	msg := domain.DecryptionErrorMessage{
		Timestamp:    timestamp,
		DeviceID:     device,
		OriginalType: typ,
	}
	if typ != domaintypes.EnvelopeCiphertext && typ != domaintypes.EnvelopePreKeyBundle {
		return msg
	}
	var framed domain.CiphertextMessage
	if err := json.Unmarshal(original, &framed); err != nil {
		return msg
	}
	if len(framed.Header.DiffieHellmanPublicKey) > 0 {
		msg.RatchetKey = append([]byte(nil), framed.Header.DiffieHellmanPublicKey...)
	}
	return msg
}
