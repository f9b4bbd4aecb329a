package solanaclient

import (
	"bytes"
	"errors"
)

var (
	ErrNotFound           = errors.New("transaction not found")
	ErrFailed             = errors.New("transaction failed")
	ErrAccountNotInvolved = errors.New("transaction does not invoke the program on account")
)

type Blockhash struct {
	Hash                 string
	LastValidBlockHeight uint64
}

// Instruction is a top-level instruction with its indexes resolved against
// the message account keys.
type Instruction struct {
	ProgramID string
	Accounts  []string
	Data      []byte
}

type ConfirmedTransaction struct {
	Signature    string
	Slot         uint64
	Failed       bool
	Accounts     []string
	Instructions []Instruction
}

// Check requires a successful transaction with an instruction addressed to
// programID whose data starts with discriminator and whose first account is
// account. The first such instruction is returned.
func (t ConfirmedTransaction) Check(programID string, discriminator []byte, account string) (Instruction, error) {
	if t.Failed {
		return Instruction{}, ErrFailed
	}

	for _, ix := range t.Instructions {
		if ix.ProgramID != programID || len(ix.Accounts) == 0 || ix.Accounts[0] != account {
			continue
		}
		if !bytes.HasPrefix(ix.Data, discriminator) {
			continue
		}
		return ix, nil
	}

	return Instruction{}, ErrAccountNotInvolved
}
