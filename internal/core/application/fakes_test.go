package application

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
	"github.com/shiro-wallet/shirod/internal/core/domain"
	"github.com/shiro-wallet/shirod/internal/core/ports"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testPassword = "password"

var testStartTime = time.Unix(1_700_000_000, 0)

type chainTx struct {
	tx     *wire.MsgTx
	height int64
}

type chainUtxo struct {
	address string
	amount  uint64
	txid    string
}

// fakeChain keeps a utxo set updated by the broadcasted txs.
type fakeChain struct {
	lock    sync.Mutex
	tip     int64
	txs     map[string]*chainTx
	utxos   map[wire.OutPoint]chainUtxo
	nonce   uint32
	feeRate chainfee.SatPerKVByte
	down    bool
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		tip:     100,
		txs:     make(map[string]*chainTx),
		utxos:   make(map[wire.OutPoint]chainUtxo),
		feeRate: chainfee.SatPerKVByte(2000),
	}
}

// fund creates a confirmed output of amount sats paying to address.
func (c *fakeChain) fund(t *testing.T, address string, amount uint64) string {
	c.lock.Lock()
	defer c.lock.Unlock()

	addr, err := btcutil.DecodeAddress(address, &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	pkScript, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)

	c.nonce++
	tx := wire.NewMsgTx(2)
	prevHash := chainhash.HashH([]byte(fmt.Sprintf("faucet-%d", c.nonce)))
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&prevHash, 0), nil, nil))
	tx.AddTxOut(wire.NewTxOut(int64(amount), pkScript))

	c.tip++
	txid := tx.TxHash().String()
	c.txs[txid] = &chainTx{tx: tx, height: c.tip}
	c.addOutputs(tx)
	return txid
}

func (c *fakeChain) mine(blocks int64) {
	c.lock.Lock()
	defer c.lock.Unlock()

	for _, tx := range c.txs {
		if tx.height == 0 {
			tx.height = c.tip + 1
		}
	}
	c.tip += blocks
}

func (c *fakeChain) hasTx(txid string) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	_, ok := c.txs[txid]
	return ok
}

func (c *fakeChain) addOutputs(tx *wire.MsgTx) {
	txid := tx.TxHash()
	for i, out := range tx.TxOut {
		_, addrs, _, err := txscript.ExtractPkScriptAddrs(
			out.PkScript, &chaincfg.RegressionNetParams,
		)
		if err != nil || len(addrs) == 0 {
			continue
		}
		c.utxos[wire.OutPoint{Hash: txid, Index: uint32(i)}] = chainUtxo{
			address: addrs[0].EncodeAddress(),
			amount:  uint64(out.Value),
			txid:    txid.String(),
		}
	}
}

func (c *fakeChain) GetUtxos(_ context.Context, address string) ([]ports.ChainUtxo, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	utxos := make([]ports.ChainUtxo, 0)
	for outpoint, u := range c.utxos {
		if u.address != address {
			continue
		}
		height := c.txs[u.txid].height
		utxos = append(utxos, ports.ChainUtxo{
			Txid:        u.txid,
			VOut:        outpoint.Index,
			Amount:      u.amount,
			Confirmed:   height > 0,
			BlockHeight: height,
		})
	}
	return utxos, nil
}

func (c *fakeChain) GetConfirmations(_ context.Context, txid string) (uint32, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	tx, ok := c.txs[txid]
	if !ok {
		return 0, ports.ErrTxNotFound
	}
	if tx.height == 0 {
		return 0, nil
	}
	return uint32(c.tip - tx.height + 1), nil
}

func (c *fakeChain) Broadcast(_ context.Context, txHex string) (string, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	buf, err := hex.DecodeString(txHex)
	if err != nil {
		return "", err
	}
	tx := &wire.MsgTx{}
	if err := tx.Deserialize(bytes.NewReader(buf)); err != nil {
		return "", err
	}
	txid := tx.TxHash().String()
	if _, ok := c.txs[txid]; ok {
		return txid, nil
	}
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for _, in := range tx.TxIn {
		if _, ok := c.utxos[in.PreviousOutPoint]; !ok {
			return "", fmt.Errorf("bad-txns-inputs-missingorspent")
		}
		prevTx := c.txs[in.PreviousOutPoint.Hash.String()].tx
		fetcher.AddPrevOut(in.PreviousOutPoint, prevTx.TxOut[in.PreviousOutPoint.Index])
	}
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	for i, in := range tx.TxIn {
		prevout := fetcher.FetchPrevOutput(in.PreviousOutPoint)
		vm, err := txscript.NewEngine(
			prevout.PkScript, tx, i, txscript.StandardVerifyFlags, nil, sigHashes,
			prevout.Value, fetcher,
		)
		if err != nil {
			return "", err
		}
		if err := vm.Execute(); err != nil {
			return "", fmt.Errorf("invalid signature for input %d: %w", i, err)
		}
	}
	for _, in := range tx.TxIn {
		delete(c.utxos, in.PreviousOutPoint)
	}
	c.txs[txid] = &chainTx{tx: tx}
	c.addOutputs(tx)
	return txid, nil
}

func (c *fakeChain) FeeRate(context.Context) (chainfee.SatPerKVByte, error) {
	return c.feeRate, nil
}

func (c *fakeChain) setDown(down bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.down = down
}

func (c *fakeChain) TipHeight(context.Context) (int64, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.down {
		return 0, fmt.Errorf("connection refused")
	}
	return c.tip, nil
}

// fakeRelay stores commitments in memory.
type fakeRelay struct {
	lock        sync.Mutex
	commitments map[string]ports.Commitment
	byRecipient map[string]string
	assets      map[string]ports.ContractInfo
	acks        map[string]bool
	postErr     error
	queryFails  int
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{
		commitments: make(map[string]ports.Commitment),
		byRecipient: make(map[string]string),
		assets:      make(map[string]ports.ContractInfo),
		acks:        make(map[string]bool),
	}
}

func (r *fakeRelay) setPostErr(err error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.postErr = err
}

// failQueries makes the next n incoming queries fail with a timeout.
func (r *fakeRelay) failQueries(n int) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.queryFails = n
}

func (r *fakeRelay) Info(context.Context) (*ports.RelayInfo, error) {
	return &ports.RelayInfo{Protocol: "fake", Version: "0"}, nil
}

func (r *fakeRelay) RegisterAsset(_ context.Context, contract ports.ContractInfo) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.assets[contract.AssetID] = contract
	return nil
}

func (r *fakeRelay) PostCommitment(_ context.Context, commitment ports.Commitment) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.postErr != nil {
		return r.postErr
	}
	if _, ok := r.byRecipient[commitment.RecipientID]; ok {
		return ports.ErrRelayRejected
	}
	r.commitments[commitment.TransferID] = commitment
	r.byRecipient[commitment.RecipientID] = commitment.TransferID
	return nil
}

func (r *fakeRelay) QueryIncoming(
	_ context.Context, recipientID string,
) (*ports.Commitment, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.queryFails > 0 {
		r.queryFails--
		return nil, context.DeadlineExceeded
	}
	id, ok := r.byRecipient[recipientID]
	if !ok {
		return nil, nil
	}
	commitment := r.commitments[id]
	return &commitment, nil
}

func (r *fakeRelay) GetTransfer(_ context.Context, transferID string) (*ports.Commitment, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	commitment, ok := r.commitments[transferID]
	if !ok {
		return nil, nil
	}
	return &commitment, nil
}

func (r *fakeRelay) Ack(_ context.Context, recipientID string, accepted bool) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.acks[recipientID] = accepted
	return nil
}

type mockRelay struct {
	mock.Mock
}

func (m *mockRelay) Info(ctx context.Context) (*ports.RelayInfo, error) {
	args := m.Called(ctx)
	var res *ports.RelayInfo
	if a := args.Get(0); a != nil {
		res = a.(*ports.RelayInfo)
	}
	return res, args.Error(1)
}

func (m *mockRelay) RegisterAsset(ctx context.Context, contract ports.ContractInfo) error {
	args := m.Called(ctx, contract)
	return args.Error(0)
}

func (m *mockRelay) PostCommitment(ctx context.Context, commitment ports.Commitment) error {
	args := m.Called(ctx, commitment)
	return args.Error(0)
}

func (m *mockRelay) QueryIncoming(
	ctx context.Context, recipientID string,
) (*ports.Commitment, error) {
	args := m.Called(ctx, recipientID)
	var res *ports.Commitment
	if a := args.Get(0); a != nil {
		res = a.(*ports.Commitment)
	}
	return res, args.Error(1)
}

func (m *mockRelay) GetTransfer(ctx context.Context, transferID string) (*ports.Commitment, error) {
	args := m.Called(ctx, transferID)
	var res *ports.Commitment
	if a := args.Get(0); a != nil {
		res = a.(*ports.Commitment)
	}
	return res, args.Error(1)
}

func (m *mockRelay) Ack(ctx context.Context, recipientID string, accepted bool) error {
	args := m.Called(ctx, recipientID, accepted)
	return args.Error(0)
}

type fakeDialer struct {
	chain   ports.ChainService
	relay   ports.RelayService
	err     error
	release chan struct{}
}

func (d *fakeDialer) Dial(
	ctx context.Context, _, _ string,
) (ports.ChainService, ports.RelayService, error) {
	if d.release != nil {
		select {
		case <-d.release:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
	if d.err != nil {
		return nil, nil, d.err
	}
	return d.chain, d.relay, nil
}

type memSeedRepo struct {
	lock sync.Mutex
	seed []byte
}

func (r *memSeedRepo) IsInitialized(context.Context) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.seed) > 0
}

func (r *memSeedRepo) GetEncryptedSeed(context.Context) ([]byte, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.seed, nil
}

func (r *memSeedRepo) SetEncryptedSeed(_ context.Context, seed []byte) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.seed = seed
	return nil
}

func (r *memSeedRepo) Close() {}

// memWalletRepo keeps every saved snapshot.
type memWalletRepo struct {
	lock    sync.Mutex
	history [][]byte
}

func (r *memWalletRepo) Get(context.Context) (*domain.WalletSnapshot, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if len(r.history) == 0 {
		return nil, nil
	}
	snapshot := &domain.WalletSnapshot{}
	if err := json.Unmarshal(r.history[len(r.history)-1], snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}

func (r *memWalletRepo) Save(_ context.Context, snapshot domain.WalletSnapshot) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	buf, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	r.history = append(r.history, buf)
	return nil
}

func (r *memWalletRepo) Clear(context.Context) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.history = nil
	return nil
}

func (r *memWalletRepo) Close() {}

// find returns the first saved snapshot matching the filter.
func (r *memWalletRepo) find(filter func(domain.WalletSnapshot) bool) *domain.WalletSnapshot {
	r.lock.Lock()
	defer r.lock.Unlock()

	for _, buf := range r.history {
		snapshot := domain.WalletSnapshot{}
		if err := json.Unmarshal(buf, &snapshot); err != nil {
			continue
		}
		if filter(snapshot) {
			return &snapshot
		}
	}
	return nil
}

type fakeCrypto struct{}

func (fakeCrypto) Encrypt(_ context.Context, seed []byte, password string) ([]byte, error) {
	return append([]byte(password+":"), seed...), nil
}

func (fakeCrypto) Decrypt(_ context.Context, encrypted []byte, password string) ([]byte, error) {
	prefix := []byte(password + ":")
	if !bytes.HasPrefix(encrypted, prefix) {
		return nil, fmt.Errorf("invalid password")
	}
	return encrypted[len(prefix):], nil
}

type testWallet struct {
	*service
	seedRepo   *memSeedRepo
	walletRepo *memWalletRepo
	dialer     *fakeDialer
	mnemonic   string
}

func newTestConfig() Config {
	return Config{
		Network:           chaincfg.RegressionNetParams.Name,
		ConfirmationDepth: 1,
		InvoiceExpiry:     time.Hour,
		SendExpiry:        time.Hour,
		NetworkTimeout:    5 * time.Second,
	}
}

func newTestWallet(
	t *testing.T, chain ports.ChainService, relay ports.RelayService, testClock clock.Clock,
) *testWallet {
	w := &testWallet{
		seedRepo:   &memSeedRepo{},
		walletRepo: &memWalletRepo{},
		dialer:     &fakeDialer{chain: chain, relay: relay},
	}
	w.service = newServiceFromRepos(t, w.seedRepo, w.walletRepo, w.dialer, testClock)
	return w
}

func newServiceFromRepos(
	t *testing.T, seedRepo *memSeedRepo, walletRepo *memWalletRepo, dialer *fakeDialer,
	testClock clock.Clock,
) *service {
	svc, err := NewService(
		newTestConfig(), seedRepo, walletRepo, fakeCrypto{}, dialer, nil, WithClock(testClock),
	)
	require.NoError(t, err)
	return svc.(*service)
}

// setup initializes the wallet and brings it online.
func (w *testWallet) setup(t *testing.T) {
	ctx := context.Background()

	keys, err := w.GenerateKeys(ctx)
	require.NoError(t, err)
	w.mnemonic = keys.Mnemonic

	_, err = w.Initialize(ctx, keys.Mnemonic, testPassword)
	require.NoError(t, err)
	_, err = w.GoOnline(ctx, "http://chain", "http://relay")
	require.NoError(t, err)
}

// deposit funds a fresh wallet address and refreshes so that the ledger picks it up.
func (w *testWallet) deposit(t *testing.T, chain *fakeChain, amount uint64) {
	ctx := context.Background()

	addr, err := w.GetAddress(ctx)
	require.NoError(t, err)
	chain.fund(t, addr, amount)
	report, err := w.Refresh(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.NewUtxos)
}

func (w *testWallet) issue(t *testing.T, ticker string, supply uint64) domain.AssetContract {
	contract, err := w.Issue(context.Background(), IssueRequest{
		Ticker:      ticker,
		Name:        ticker + " token",
		TotalSupply: supply,
	})
	require.NoError(t, err)
	return *contract
}

func (w *testWallet) balance(t *testing.T, assetID string) domain.Balance {
	balance, err := w.GetAssetBalance(context.Background(), assetID)
	require.NoError(t, err)
	return *balance
}

func (w *testWallet) reservedCount(t *testing.T) int {
	unspents, err := w.ListUnspents(context.Background(), false)
	require.NoError(t, err)
	count := 0
	for _, u := range unspents {
		if u.IsReserved() {
			count++
		}
	}
	return count
}
