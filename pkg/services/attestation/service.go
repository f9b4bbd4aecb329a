// Package attestation seals deposit metadata with the server key so that the
// values priced at build time can be trusted again at confirmation.
package attestation

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"

	"pinledger-backend/pkg/models"
	v1 "pinledger-backend/pkg/models/api/v1"
)

type service struct {
	key    ed25519.PrivateKey
	logger *slog.Logger
}

type Attestation interface {
	Seal(meta v1.DepositMetadata) (v1.DepositMetadata, error)
	Verify(meta v1.DepositMetadata) error
}

func (s *service) Seal(meta v1.DepositMetadata) (v1.DepositMetadata, error) {
	payload, err := signedPayload(meta)
	if err != nil {
		return meta, err
	}

	meta.Signature = hex.EncodeToString(ed25519.Sign(s.key, payload))

	return meta, nil
}

func (s *service) Verify(meta v1.DepositMetadata) error {
	logger := s.logger.With(
		slog.String("method", "Verify"),
		slog.String("cid", meta.CID),
		slog.String("owner", meta.Owner),
	)

	sig, err := hex.DecodeString(meta.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		logger.Warn("malformed metadata signature")
		return models.ErrMetadataTampered
	}

	payload, err := signedPayload(meta)
	if err != nil {
		logger.Error("failed to encode metadata", slog.Any("error", err))
		return models.ErrMetadataTampered
	}

	if !ed25519.Verify(s.key.Public().(ed25519.PublicKey), payload, sig) {
		logger.Warn("metadata signature mismatch")
		return models.ErrMetadataTampered
	}

	return nil
}

func signedPayload(meta v1.DepositMetadata) ([]byte, error) {
	meta.Signature = ""

	payload, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	return append([]byte("deposit-metadata:"), payload...), nil
}

func New(key ed25519.PrivateKey, logger *slog.Logger) Attestation {
	return &service{key: key, logger: logger}
}
