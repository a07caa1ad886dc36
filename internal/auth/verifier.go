// Package auth establishes the signer set of a request. A client proves it
// holds the key of an account by signing a canonical message naming the
// operation, a unix timestamp and the operation's arguments.
package auth

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/devrev/treasury/internal/errors"
	"github.com/devrev/treasury/internal/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"go.uber.org/zap"
)

const messagePrefix = "treasury"

// Operation names covered by request signatures
const (
	OpInitialize = "initialize"
	OpDeposit    = "deposit"
	OpDistribute = "distribute"
	OpTransfer   = "transfer"
)

// Message returns the canonical bytes a signer signs:
// treasury|<op>|<unix-ts>|<field>|...
func Message(op string, timestamp int64, fields ...string) []byte {
	parts := make([]string, 0, len(fields)+3)
	parts = append(parts, messagePrefix, op, strconv.FormatInt(timestamp, 10))
	parts = append(parts, fields...)
	return []byte(strings.Join(parts, "|"))
}

// Sign produces the base58 request signature for key
func Sign(key solana.PrivateKey, op string, timestamp int64, fields ...string) (string, error) {
	sig, err := key.Sign(Message(op, timestamp, fields...))
	if err != nil {
		return "", fmt.Errorf("failed to sign request: %w", err)
	}
	return base58.Encode(sig[:]), nil
}

// VerifierConfig holds request verification settings
type VerifierConfig struct {
	MaxClockSkew time.Duration
}

// Verifier checks request signatures
type Verifier struct {
	config  *VerifierConfig
	replay  *ReplayCache
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewVerifier creates a verifier. replay may be nil to disable replay protection.
func NewVerifier(cfg *VerifierConfig, replay *ReplayCache, m *metrics.Metrics, logger *zap.Logger) *Verifier {
	return &Verifier{
		config:  cfg,
		replay:  replay,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Verify checks that signature is signer's signature over the canonical
// message and that the request is fresh and not a replay
func (v *Verifier) Verify(signer solana.PublicKey, signature, op string, timestamp int64, fields ...string) error {
	raw, err := base58.Decode(signature)
	if err != nil || len(raw) != len(solana.Signature{}) {
		v.reject("malformed", signer)
		return errors.MissingSignature(signer.String()).WithDetail("reason", "malformed signature")
	}

	now := v.now()
	signedAt := time.Unix(timestamp, 0)
	skew := now.Sub(signedAt)
	if skew < 0 {
		skew = -skew
	}
	if skew > v.config.MaxClockSkew {
		v.reject("stale", signer)
		return errors.MissingSignature(signer.String()).
			WithDetail("reason", "timestamp outside accepted window").
			WithDetail("skew_seconds", int64(skew.Seconds()))
	}

	var sig solana.Signature
	copy(sig[:], raw)
	if !sig.Verify(signer, Message(op, timestamp, fields...)) {
		v.reject("invalid", signer)
		return errors.MissingSignature(signer.String()).WithDetail("reason", "signature does not verify")
	}

	if v.replay != nil {
		if err := v.replay.Remember(signature, signedAt.Add(v.config.MaxClockSkew)); err != nil {
			reason := "replayed"
			if errors.HasCode(err, errors.ErrCodeReplayCacheFull) {
				reason = "replay_cache_full"
			}
			v.reject(reason, signer)
			return err
		}
		v.metrics.UpdateReplayCache(v.replay.Len())
	}

	return nil
}

func (v *Verifier) reject(reason string, signer solana.PublicKey) {
	v.metrics.RecordAuthRejection(reason)
	v.logger.Warn("Rejected request signature",
		zap.String("reason", reason),
		zap.String("signer", signer.String()))
}
