package deposits

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	solanaclient "pinledger-backend/pkg/clients/solana"
	"pinledger-backend/pkg/constants"
	"pinledger-backend/pkg/escrow"
	"pinledger-backend/pkg/models"
	v1 "pinledger-backend/pkg/models/api/v1"
	"pinledger-backend/pkg/models/db"
	depositsRepository "pinledger-backend/pkg/repositories/deposits"
	"pinledger-backend/pkg/services/attestation"
)

var (
	testProgram = solana.MustPublicKeyFromBase58("Stake11111111111111111111111111111111111111")
	testOwner   = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	testFiles   = map[string][]byte{"report.pdf": []byte("%PDF-1.4 body")}
	discard     = slog.New(slog.NewTextHandler(io.Discard, nil))
)

type memRepo struct {
	mu       sync.Mutex
	deposits map[string]db.Deposit
	txs      []db.Transaction
	// hideNext makes the next lookup miss, as if a competing insert landed
	// between lookup and insert
	hideNext bool
}

func newMemRepo() *memRepo {
	return &memRepo{deposits: map[string]db.Deposit{}}
}

func (m *memRepo) GetDepositByCID(_ context.Context, cid string) (*db.Deposit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.hideNext {
		m.hideNext = false
		return nil, nil
	}

	d, ok := m.deposits[cid]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (m *memRepo) signatureUsed(sig string) bool {
	for _, t := range m.txs {
		if t.Signature == sig {
			return true
		}
	}
	return false
}

func (m *memRepo) CreateDeposit(_ context.Context, d db.Deposit, tx db.Transaction) (db.Deposit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.deposits[d.CID]; ok {
		return db.Deposit{}, depositsRepository.ErrAlreadyExists
	}
	if m.signatureUsed(tx.Signature) {
		return db.Deposit{}, depositsRepository.ErrSignatureTaken
	}

	d.ID = int64(len(m.deposits) + 1)
	m.deposits[d.CID] = d
	tx.DepositID = d.ID
	m.txs = append(m.txs, tx)

	return d, nil
}

func (m *memRepo) AttachSignature(_ context.Context, cid string, slot uint64, tx db.Transaction) (db.Deposit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.deposits[cid]
	if !ok || d.TransactionSignature != nil {
		return db.Deposit{}, depositsRepository.ErrSignatureAlreadySet
	}
	if m.signatureUsed(tx.Signature) {
		return db.Deposit{}, depositsRepository.ErrSignatureTaken
	}

	sig := tx.Signature
	d.TransactionSignature = &sig
	d.DepositSlot = slot
	m.deposits[cid] = d
	tx.DepositID = d.ID
	m.txs = append(m.txs, tx)

	return d, nil
}

func (m *memRepo) ListByOwner(_ context.Context, owner string, limit, offset int) ([]db.Deposit, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var all []db.Deposit
	for _, d := range m.deposits {
		if d.OwnerAddress == owner {
			all = append(all, d)
		}
	}

	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	end := min(offset+limit, len(all))

	return all[offset:end], total, nil
}

type fakePricing struct{}

func (fakePricing) Quote(_ context.Context, size uint64, days uint32) (v1.Quote, error) {
	return v1.Quote{TotalCost: size * uint64(days), SizeBytes: size, DurationDays: days}, nil
}

type fakeChain struct {
	mu           sync.Mutex
	blockhash    int
	confirms     int
	accounts     []string
	instructions []solanaclient.Instruction
	failed       bool
	err          error
}

func (f *fakeChain) LatestBlockhash(context.Context) (solanaclient.Blockhash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blockhash++
	return solanaclient.Blockhash{Hash: "hash", LastValidBlockHeight: 77}, nil
}

func (f *fakeChain) ConfirmTransaction(_ context.Context, sig string) (solanaclient.ConfirmedTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirms++
	if f.err != nil {
		return solanaclient.ConfirmedTransaction{}, f.err
	}
	return solanaclient.ConfirmedTransaction{
		Signature:    sig,
		Slot:         42,
		Failed:       f.failed,
		Accounts:     f.accounts,
		Instructions: f.instructions,
	}, nil
}

// landed turns the instructions a wallet was handed into what the chain
// reports after execution.
func landed(t *testing.T, ixs []v1.Instruction) []solanaclient.Instruction {
	t.Helper()

	out := make([]solanaclient.Instruction, 0, len(ixs))
	for _, ix := range ixs {
		data, err := base64.StdEncoding.DecodeString(ix.Data)
		require.NoError(t, err)

		ci := solanaclient.Instruction{ProgramID: ix.ProgramID, Data: data}
		for _, k := range ix.Keys {
			ci.Accounts = append(ci.Accounts, k.Pubkey)
		}
		out = append(out, ci)
	}

	return out
}

type fakeGateway struct{}

func (fakeGateway) GatewayURL(cid string) string { return "https://gw.test/ipfs/" + cid }

type fixture struct {
	svc   Deposits
	repo  *memRepo
	chain *fakeChain
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	key := ed25519.NewKeyFromSeed(make([]byte, ed25519.SeedSize))
	repo := newMemRepo()
	chain := &fakeChain{}

	svc := NewService(repo, fakePricing{}, chain, attestation.New(key, discard), fakeGateway{}, testProgram, 1, discard)

	return fixture{svc: svc, repo: repo, chain: chain}
}

// build returns a sealed deposit and makes the fake chain report the
// unmodified instruction as executed.
func (f fixture) build(t *testing.T) v1.DepositResponse {
	t.Helper()

	resp, err := f.svc.Build(context.Background(), v1.DepositRequest{
		Owner:           testOwner,
		Files:           testFiles,
		DurationSeconds: 30 * constants.SecondsPerDay,
	})
	require.NoError(t, err)

	addrs, err := escrow.DeriveAddresses(testProgram, solana.MustPublicKeyFromBase58(testOwner), resp.CID)
	require.NoError(t, err)
	f.chain.accounts = []string{testOwner, addrs.Deposit.String(), addrs.Vault.String(), testProgram.String()}
	f.chain.instructions = landed(t, resp.Instructions)

	return resp
}

func sig(b byte) string {
	var s solana.Signature
	s[0] = b
	s[63] = b
	return s.String()
}

func TestBuild(t *testing.T) {
	f := newFixture(t)
	email := "user@example.com"

	resp, err := f.svc.Build(context.Background(), v1.DepositRequest{
		Owner:           testOwner,
		Files:           map[string][]byte{"notes/zeta": []byte("bb"), "notes/alpha": []byte("a")},
		DurationSeconds: 30*constants.SecondsPerDay - 5,
		UserEmail:       &email,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, resp.FileCount)
	assert.Equal(t, uint64(3), resp.TotalSize)
	assert.Equal(t, "hash", resp.RecentBlockhash)
	require.Len(t, resp.Instructions, 1)
	assert.Equal(t, testProgram.String(), resp.Instructions[0].ProgramID)
	assert.True(t, resp.Instructions[0].Keys[3].IsSigner)

	meta := resp.DepositMetadata
	assert.Equal(t, resp.CID, meta.CID)
	assert.Equal(t, uint32(30), meta.DurationDays, "partial days round up")
	assert.Equal(t, uint64(90), meta.DepositAmount)
	assert.Equal(t, "2 files", meta.FileName)
	assert.Equal(t, "text/plain; charset=utf-8", meta.FileType)
	assert.NotEmpty(t, meta.Signature)

	assert.Empty(t, f.repo.deposits, "build never writes to the ledger")
}

func TestBuild_Validation(t *testing.T) {
	f := newFixture(t)
	f.svc = NewService(f.repo, fakePricing{}, f.chain, attestation.New(ed25519.NewKeyFromSeed(make([]byte, 32)), discard), fakeGateway{}, testProgram, 7, discard)
	bad := "not an email"

	cases := []struct {
		name string
		req  v1.DepositRequest
		err  error
	}{
		{"payer", v1.DepositRequest{Owner: "0xdeadbeef", Files: testFiles, DurationSeconds: 30 * constants.SecondsPerDay}, models.ErrInvalidPayer},
		{"duration", v1.DepositRequest{Owner: testOwner, Files: testFiles, DurationSeconds: 6 * constants.SecondsPerDay}, models.ErrDurationTooShort},
		{"negative duration", v1.DepositRequest{Owner: testOwner, Files: testFiles, DurationSeconds: -1}, models.ErrDurationTooShort},
		{"email", v1.DepositRequest{Owner: testOwner, Files: testFiles, DurationSeconds: 30 * constants.SecondsPerDay, UserEmail: &bad}, models.ErrInvalidEmail},
		{"no files", v1.DepositRequest{Owner: testOwner, DurationSeconds: 30 * constants.SecondsPerDay}, models.ErrNoFiles},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Build(context.Background(), tc.req)
			assert.ErrorIs(t, err, tc.err)
		})
	}

	assert.Zero(t, f.chain.blockhash)
}

func TestConfirm_CreatesOnce(t *testing.T) {
	f := newFixture(t)
	resp := f.build(t)
	ctx := context.Background()

	req := v1.ConfirmRequest{CID: resp.CID, TransactionHash: sig(1), DepositMetadata: &resp.DepositMetadata}

	status, deposit, err := f.svc.Confirm(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, v1.ConfirmStatusCreated, status)
	assert.Equal(t, "active", deposit.DeletionStatus)
	assert.Equal(t, uint64(42), deposit.DepositSlot)
	assert.Equal(t, int64(30*constants.SecondsPerDay), deposit.ExpiresAt-deposit.CreatedAt)
	assert.Equal(t, "https://gw.test/ipfs/"+resp.CID, deposit.URL)

	status, again, err := f.svc.Confirm(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, v1.ConfirmStatusAlreadyConfirmed, status)
	assert.Equal(t, deposit.CID, again.CID)

	// a different signature for the same cid is still a conflict
	req.TransactionHash = sig(2)
	status, _, err = f.svc.Confirm(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, v1.ConfirmStatusAlreadyConfirmed, status)

	assert.Len(t, f.repo.deposits, 1)
	require.Len(t, f.repo.txs, 1)
	assert.Equal(t, db.TransactionTypeInitialDeposit, f.repo.txs[0].Type)
	assert.Equal(t, 1, f.chain.confirms)
}

func TestConfirm_Recovery(t *testing.T) {
	f := newFixture(t)
	resp := f.build(t)

	f.repo.deposits[resp.CID] = db.Deposit{
		ID:             1,
		CID:            resp.CID,
		OwnerAddress:   testOwner,
		DeletionStatus: db.DeletionStatusActive,
		CreatedAt:      time.Now(),
	}

	status, deposit, err := f.svc.Confirm(context.Background(), v1.ConfirmRequest{
		CID:             resp.CID,
		TransactionHash: sig(3),
		DepositMetadata: &resp.DepositMetadata,
	})
	require.NoError(t, err)
	assert.Equal(t, v1.ConfirmStatusRecovered, status)
	require.NotNil(t, deposit.TransactionSignature)
	assert.Equal(t, sig(3), *deposit.TransactionSignature)
	assert.Len(t, f.repo.deposits, 1)
	assert.Len(t, f.repo.txs, 1)
}

func TestConfirm_LostInsertRace(t *testing.T) {
	f := newFixture(t)
	resp := f.build(t)
	ctx := context.Background()

	_, _, err := f.svc.Confirm(ctx, v1.ConfirmRequest{CID: resp.CID, TransactionHash: sig(1), DepositMetadata: &resp.DepositMetadata})
	require.NoError(t, err)

	f.repo.hideNext = true
	status, _, err := f.svc.Confirm(ctx, v1.ConfirmRequest{CID: resp.CID, TransactionHash: sig(2), DepositMetadata: &resp.DepositMetadata})
	require.NoError(t, err)
	assert.Equal(t, v1.ConfirmStatusAlreadyConfirmed, status)
	assert.Len(t, f.repo.deposits, 1)
	assert.Len(t, f.repo.txs, 1)
}

func TestConfirm_Concurrent(t *testing.T) {
	f := newFixture(t)
	resp := f.build(t)

	var wg sync.WaitGroup
	statuses := make([]v1.ConfirmStatus, 8)
	errs := make([]error, 8)
	for i := range statuses {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			statuses[i], _, errs[i] = f.svc.Confirm(context.Background(), v1.ConfirmRequest{
				CID:             resp.CID,
				TransactionHash: sig(byte(i + 1)),
				DepositMetadata: &resp.DepositMetadata,
			})
		}(i)
	}
	wg.Wait()

	created := 0
	for i := range statuses {
		require.NoError(t, errs[i])
		if statuses[i] == v1.ConfirmStatusCreated {
			created++
		}
	}
	assert.Equal(t, 1, created)
	assert.Len(t, f.repo.deposits, 1)
	assert.Len(t, f.repo.txs, 1)
}

func TestConfirm_Rejections(t *testing.T) {
	f := newFixture(t)
	resp := f.build(t)
	ctx := context.Background()

	_, _, err := f.svc.Confirm(ctx, v1.ConfirmRequest{CID: resp.CID, TransactionHash: sig(1)})
	assert.ErrorIs(t, err, models.ErrMissingFields)

	_, _, err = f.svc.Confirm(ctx, v1.ConfirmRequest{CID: "bafy...01", TransactionHash: sig(1), DepositMetadata: &resp.DepositMetadata})
	assert.ErrorIs(t, err, models.ErrInvalidCID)

	_, _, err = f.svc.Confirm(ctx, v1.ConfirmRequest{CID: resp.CID, TransactionHash: "nope", DepositMetadata: &resp.DepositMetadata})
	assert.ErrorIs(t, err, models.ErrInvalidSignature)

	tampered := resp.DepositMetadata
	tampered.DepositAmount = 1
	_, _, err = f.svc.Confirm(ctx, v1.ConfirmRequest{CID: resp.CID, TransactionHash: sig(1), DepositMetadata: &tampered})
	assert.ErrorIs(t, err, models.ErrMetadataTampered)

	f.chain.err = solanaclient.ErrNotFound
	_, _, err = f.svc.Confirm(ctx, v1.ConfirmRequest{CID: resp.CID, TransactionHash: sig(1), DepositMetadata: &resp.DepositMetadata})
	assert.ErrorIs(t, err, models.ErrTransactionPending)

	f.chain.err = nil
	f.chain.failed = true
	_, _, err = f.svc.Confirm(ctx, v1.ConfirmRequest{CID: resp.CID, TransactionHash: sig(1), DepositMetadata: &resp.DepositMetadata})
	assert.ErrorIs(t, err, models.ErrTransactionFailed)

	f.chain.failed = false
	f.chain.instructions = nil
	_, _, err = f.svc.Confirm(ctx, v1.ConfirmRequest{CID: resp.CID, TransactionHash: sig(1), DepositMetadata: &resp.DepositMetadata})
	assert.ErrorIs(t, err, models.ErrWrongProgram)

	assert.Empty(t, f.repo.deposits)
}

func TestConfirm_TransferToDepositAddressIsNotPayment(t *testing.T) {
	f := newFixture(t)
	resp := f.build(t)

	addrs, err := escrow.DeriveAddresses(testProgram, solana.MustPublicKeyFromBase58(testOwner), resp.CID)
	require.NoError(t, err)

	// lists the deposit address but never reaches the escrow program
	f.chain.accounts = []string{testOwner, addrs.Deposit.String(), solana.SystemProgramID.String()}
	f.chain.instructions = []solanaclient.Instruction{{
		ProgramID: solana.SystemProgramID.String(),
		Accounts:  []string{testOwner, addrs.Deposit.String()},
		Data:      []byte{2, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0},
	}}

	_, _, err = f.svc.Confirm(context.Background(), v1.ConfirmRequest{
		CID:             resp.CID,
		TransactionHash: sig(1),
		DepositMetadata: &resp.DepositMetadata,
	})
	assert.ErrorIs(t, err, models.ErrWrongProgram)
	assert.Empty(t, f.repo.deposits)
	assert.Empty(t, f.repo.txs)
}

func TestConfirm_PaymentMismatch(t *testing.T) {
	meta := func(resp v1.DepositResponse) escrow.CreateDepositArgs {
		return escrow.CreateDepositArgs{
			CID:      resp.CID,
			Size:     resp.TotalSize,
			Duration: int64(resp.DepositMetadata.DurationDays) * constants.SecondsPerDay,
			Amount:   resp.DepositMetadata.DepositAmount,
		}
	}

	cases := []struct {
		name   string
		modify func(*escrow.CreateDepositArgs)
	}{
		{"underpaid", func(a *escrow.CreateDepositArgs) { a.Amount-- }},
		{"shorter duration", func(a *escrow.CreateDepositArgs) { a.Duration -= constants.SecondsPerDay }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			resp := f.build(t)

			args := meta(resp)
			tc.modify(&args)
			ix, _, err := escrow.CreateDepositInstruction(testProgram, solana.MustPublicKeyFromBase58(testOwner), args)
			require.NoError(t, err)
			encoded, err := escrow.Encode(ix)
			require.NoError(t, err)
			f.chain.instructions = landed(t, []v1.Instruction{encoded})

			_, _, err = f.svc.Confirm(context.Background(), v1.ConfirmRequest{
				CID:             resp.CID,
				TransactionHash: sig(1),
				DepositMetadata: &resp.DepositMetadata,
			})
			assert.ErrorIs(t, err, models.ErrPaymentMismatch)
			assert.Empty(t, f.repo.deposits)
		})
	}
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	resp := f.build(t)
	ctx := context.Background()

	_, _, err := f.svc.Confirm(ctx, v1.ConfirmRequest{CID: resp.CID, TransactionHash: sig(1), DepositMetadata: &resp.DepositMetadata})
	require.NoError(t, err)

	h, err := f.svc.History(ctx, testOwner, 0, 1000)
	require.NoError(t, err)
	assert.Equal(t, 1, h.Page)
	assert.Equal(t, constants.HistoryMaxLimit, h.Limit)
	assert.Equal(t, int64(1), h.Total)
	require.Len(t, h.Deposits, 1)
	assert.Equal(t, resp.CID, h.Deposits[0].CID)

	h, err = f.svc.History(ctx, testOwner, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, constants.HistoryDefaultLimit, h.Limit)
	assert.Empty(t, h.Deposits)

	_, err = f.svc.History(ctx, "bad", 1, 10)
	assert.ErrorIs(t, err, models.ErrInvalidPayer)
}
