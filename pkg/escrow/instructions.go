// Package escrow builds unsigned instructions for the storage escrow program.
//
// Account addresses are program-derived: the deposit record is keyed by the
// payer and the sha256 of the content identifier, so the program can locate
// it without a lookup table. Vault and config use fixed seeds.
package escrow

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	v1 "pinledger-backend/pkg/models/api/v1"
)

const (
	createDepositMethod = "create_deposit"
	extendDepositMethod = "extend_deposit"
)

// ErrUnexpectedMethod is returned when instruction data carries another
// method's discriminator.
var ErrUnexpectedMethod = errors.New("unexpected instruction method")

var (
	configSeed  = []byte("config")
	vaultSeed   = []byte("escrow_vault")
	depositSeed = []byte("deposit")
)

type CreateDepositArgs struct {
	CID      string
	Size     uint64
	Duration int64
	Amount   uint64
}

type ExtendDepositArgs struct {
	CID      string
	Duration int64
	Amount   uint64
}

type Addresses struct {
	Deposit solana.PublicKey
	Vault   solana.PublicKey
	Config  solana.PublicKey
}

// CIDHash is the deposit seed derived from the identifier; seeds are limited
// to 32 bytes so the identifier itself cannot be used.
func CIDHash(cid string) []byte {
	sum := sha256.Sum256([]byte(cid))
	return sum[:]
}

func DeriveAddresses(programID, payer solana.PublicKey, cid string) (addrs Addresses, err error) {
	addrs.Deposit, _, err = solana.FindProgramAddress([][]byte{depositSeed, payer.Bytes(), CIDHash(cid)}, programID)
	if err != nil {
		err = fmt.Errorf("failed to derive deposit address: %w", err)
		return
	}

	addrs.Vault, _, err = solana.FindProgramAddress([][]byte{vaultSeed}, programID)
	if err != nil {
		err = fmt.Errorf("failed to derive vault address: %w", err)
		return
	}

	addrs.Config, _, err = solana.FindProgramAddress([][]byte{configSeed}, programID)
	if err != nil {
		err = fmt.Errorf("failed to derive config address: %w", err)
		return
	}

	return
}

func CreateDepositInstruction(programID, payer solana.PublicKey, args CreateDepositArgs) (solana.Instruction, Addresses, error) {
	addrs, err := DeriveAddresses(programID, payer, args.CID)
	if err != nil {
		return nil, addrs, err
	}

	data, err := encode(createDepositMethod, &args)
	if err != nil {
		return nil, addrs, err
	}

	return solana.NewInstruction(programID, accounts(addrs, payer), data), addrs, nil
}

func ExtendDepositInstruction(programID, payer solana.PublicKey, args ExtendDepositArgs) (solana.Instruction, Addresses, error) {
	addrs, err := DeriveAddresses(programID, payer, args.CID)
	if err != nil {
		return nil, addrs, err
	}

	data, err := encode(extendDepositMethod, &args)
	if err != nil {
		return nil, addrs, err
	}

	return solana.NewInstruction(programID, accounts(addrs, payer), data), addrs, nil
}

// Encode converts an instruction to the JSON shape wallets consume.
func Encode(ix solana.Instruction) (v1.Instruction, error) {
	data, err := ix.Data()
	if err != nil {
		return v1.Instruction{}, fmt.Errorf("failed to get instruction data: %w", err)
	}

	keys := make([]v1.AccountMeta, 0, len(ix.Accounts()))
	for _, meta := range ix.Accounts() {
		keys = append(keys, v1.AccountMeta{
			Pubkey:     meta.PublicKey.String(),
			IsSigner:   meta.IsSigner,
			IsWritable: meta.IsWritable,
		})
	}

	return v1.Instruction{
		ProgramID: ix.ProgramID().String(),
		Keys:      keys,
		Data:      base64.StdEncoding.EncodeToString(data),
	}, nil
}

// Discriminator returns the 8-byte method selector of the program.
func Discriminator(method string) []byte {
	sum := sha256.Sum256([]byte("global:" + method))
	return sum[:8]
}

func DecodeCreateDeposit(data []byte) (args CreateDepositArgs, err error) {
	err = decode(createDepositMethod, data, &args)
	return
}

func DecodeExtendDeposit(data []byte) (args ExtendDepositArgs, err error) {
	err = decode(extendDepositMethod, data, &args)
	return
}

// CreateDepositDiscriminator and ExtendDepositDiscriminator select the
// instructions this backend builds.
func CreateDepositDiscriminator() []byte { return Discriminator(createDepositMethod) }

func ExtendDepositDiscriminator() []byte { return Discriminator(extendDepositMethod) }

func accounts(addrs Addresses, payer solana.PublicKey) solana.AccountMetaSlice {
	return solana.AccountMetaSlice{
		solana.NewAccountMeta(addrs.Deposit, true, false),
		solana.NewAccountMeta(addrs.Vault, true, false),
		solana.NewAccountMeta(addrs.Config, false, false),
		solana.NewAccountMeta(payer, true, true),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}
}

func encode(method string, args any) ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.Write(Discriminator(method))

	if err := bin.NewBorshEncoder(buf).Encode(args); err != nil {
		return nil, fmt.Errorf("failed to encode %s args: %w", method, err)
	}

	return buf.Bytes(), nil
}

func decode(method string, data []byte, args any) error {
	if len(data) < 8 || !bytes.Equal(data[:8], Discriminator(method)) {
		return ErrUnexpectedMethod
	}

	if err := bin.NewBorshDecoder(data[8:]).Decode(args); err != nil {
		return fmt.Errorf("failed to decode %s args: %w", method, err)
	}

	return nil
}
