package storage

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/uhyunpark/hypermargin/pkg/crypto"
)

// Key schema for Pebble storage:
//
//	round:<seq>            → RoundReport
//	verdict:<address>      → VerdictRecord (latest per account)
//	outbox:<seq>           → intent.Intent waiting for the signer
//	outid:<intentID>       → outbox key of that intent
//	idem:<idempotencyKey>  → intent ID, kept after ack
const (
	prefixRound   = "round:"
	prefixVerdict = "verdict:"
	prefixOutbox  = "outbox:"
	prefixOutID   = "outid:"
	prefixIdem    = "idem:"
)

// roundKey returns the key for a round report
// Format: "round:{seq}", seq zero-padded (20 digits) for lexicographic sorting
func roundKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixRound, seq))
}

// verdictKey returns the key for an account's latest verdict
// Format: "verdict:{address}"
func verdictKey(addr crypto.Pubkey) []byte {
	return []byte(prefixVerdict + addr.String())
}

// outboxKey returns the key for a pending intent
// Format: "outbox:{seq}"
func outboxKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixOutbox, seq))
}

func outIDKey(id uuid.UUID) []byte {
	return []byte(prefixOutID + id.String())
}

func idemKey(key string) []byte {
	return []byte(prefixIdem + key)
}

// seqFromKey parses the zero-padded sequence after prefix
func seqFromKey(prefix string, key []byte) (uint64, error) {
	var seq uint64
	if _, err := fmt.Sscanf(string(key[len(prefix):]), "%020d", &seq); err != nil {
		return 0, fmt.Errorf("key %q: %w", key, err)
	}
	return seq, nil
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
