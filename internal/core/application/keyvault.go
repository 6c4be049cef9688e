package application

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/shiro-wallet/shirod/internal/core/domain"
	"github.com/tyler-smith/go-bip39"
)

const (
	mnemonicEntropyBits = 256
	blindingTag         = "shiro/blinding"
)

type keyChain uint8

const (
	receiveChain keyChain = iota
	changeChain
	issuerChain
	blindingChain
)

func (c keyChain) String() string {
	switch c {
	case receiveChain:
		return "receive"
	case changeChain:
		return "change"
	case issuerChain:
		return "issuer"
	case blindingChain:
		return "blinding"
	default:
		return "unknown"
	}
}

// keyPurpose identifies a signing key. The same purpose always derives the same key.
type keyPurpose struct {
	chain keyChain
	index uint32
}

func (p keyPurpose) String() string {
	return fmt.Sprintf("%s/%d", p.chain, p.index)
}

func purposeForUtxo(u domain.Utxo) keyPurpose {
	if u.Change {
		return keyPurpose{changeChain, u.KeyIndex}
	}
	return keyPurpose{receiveChain, u.KeyIndex}
}

type keyHandle struct {
	purpose keyPurpose
	path    string
	pubkey  *btcec.PublicKey
}

func generateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(mnemonicEntropyBits)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

func mnemonicToSeed(mnemonic string) ([]byte, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic")
	}
	return bip39.NewSeedWithErrorChecking(mnemonic, "")
}

// keyVault holds the master key. Private keys are only used inside its methods.
type keyVault struct {
	network     *chaincfg.Params
	fingerprint string
	// m/86'/coin'/0'
	walletAccount *hdkeychain.ExtendedKey
	// m/86'/coin'/1'
	issuerAccount *hdkeychain.ExtendedKey
	// m/86'/coin'/2'
	blindingAccount *hdkeychain.ExtendedKey
}

func newKeyVault(seed []byte, network *chaincfg.Params) (*keyVault, error) {
	masterKey, err := hdkeychain.NewMaster(seed, network)
	if err != nil {
		return nil, err
	}
	masterPubkey, err := masterKey.ECPubKey()
	if err != nil {
		return nil, err
	}

	taprootPurposeKey, err := masterKey.Derive(hdkeychain.HardenedKeyStart + 86)
	if err != nil {
		return nil, err
	}

	cointypeIndex := uint32(0)
	if network.Name != chaincfg.MainNetParams.Name {
		cointypeIndex = 1
	}
	bip86MasterKey, err := taprootPurposeKey.Derive(hdkeychain.HardenedKeyStart + cointypeIndex)
	if err != nil {
		return nil, err
	}

	accounts := make([]*hdkeychain.ExtendedKey, 0, 3)
	for i := uint32(0); i < 3; i++ {
		account, err := bip86MasterKey.Derive(hdkeychain.HardenedKeyStart + i)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}

	fingerprint := btcutil.Hash160(masterPubkey.SerializeCompressed())[:4]

	return &keyVault{
		network:         network,
		fingerprint:     hex.EncodeToString(fingerprint),
		walletAccount:   accounts[0],
		issuerAccount:   accounts[1],
		blindingAccount: accounts[2],
	}, nil
}

func (k *keyVault) accountXpub() string {
	neutered, err := k.walletAccount.Neuter()
	if err != nil {
		return ""
	}
	return neutered.String()
}

func (k *keyVault) identity() (domain.WalletIdentity, error) {
	issuer, err := k.deriveKey(keyPurpose{issuerChain, 0})
	if err != nil {
		return domain.WalletIdentity{}, err
	}
	return domain.WalletIdentity{
		AccountXpub: k.accountXpub(),
		Fingerprint: k.fingerprint,
		IssuerKey:   hex.EncodeToString(schnorr.SerializePubKey(issuer.pubkey)),
		Network:     k.network.Name,
	}, nil
}

func (k *keyVault) deriveKey(purpose keyPurpose) (*keyHandle, error) {
	key, path, err := k.derive(purpose)
	if err != nil {
		return nil, err
	}
	pubkey, err := key.ECPubKey()
	if err != nil {
		return nil, err
	}
	return &keyHandle{purpose, path, pubkey}, nil
}

// address returns the BIP86 key-spend address for the given purpose.
func (k *keyVault) address(purpose keyPurpose) (string, []byte, error) {
	handle, err := k.deriveKey(purpose)
	if err != nil {
		return "", nil, err
	}
	outputKey := txscript.ComputeTaprootKeyNoScript(handle.pubkey)
	addr, err := btcutil.NewAddressTaproot(schnorr.SerializePubKey(outputKey), k.network)
	if err != nil {
		return "", nil, err
	}
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return "", nil, err
	}
	return addr.EncodeAddress(), pkScript, nil
}

// blindingFactor returns the secret used to blind the receive commitment with the given index.
func (k *keyVault) blindingFactor(index uint32) ([]byte, error) {
	key, _, err := k.derive(keyPurpose{blindingChain, index})
	if err != nil {
		return nil, err
	}
	privkey, err := key.ECPrivKey()
	if err != nil {
		return nil, err
	}
	factor := chainhash.TaggedHash([]byte(blindingTag), privkey.Serialize())
	return factor[:], nil
}

func (k *keyVault) signDigest(purpose keyPurpose, digest []byte) ([]byte, error) {
	key, _, err := k.derive(purpose)
	if err != nil {
		return nil, err
	}
	privkey, err := key.ECPrivKey()
	if err != nil {
		return nil, err
	}
	sig, err := schnorr.Sign(privkey, digest)
	if err != nil {
		return nil, err
	}
	return sig.Serialize(), nil
}

// signTaprootInputs adds key-spend witnesses for every input of tx. prevouts and purposes
// are indexed like tx.TxIn.
func (k *keyVault) signTaprootInputs(
	tx *wire.MsgTx, prevouts []*wire.TxOut, purposes []keyPurpose,
) error {
	if len(prevouts) != len(tx.TxIn) || len(purposes) != len(tx.TxIn) {
		return fmt.Errorf("prevouts and purposes must match tx inputs")
	}

	fetcherMap := make(map[wire.OutPoint]*wire.TxOut, len(tx.TxIn))
	for i, in := range tx.TxIn {
		fetcherMap[in.PreviousOutPoint] = prevouts[i]
	}
	sigHashes := txscript.NewTxSigHashes(tx, txscript.NewMultiPrevOutFetcher(fetcherMap))

	for i := range tx.TxIn {
		key, _, err := k.derive(purposes[i])
		if err != nil {
			return err
		}
		privkey, err := key.ECPrivKey()
		if err != nil {
			return err
		}
		witness, err := txscript.TaprootWitnessSignature(
			tx, sigHashes, i, prevouts[i].Value, prevouts[i].PkScript,
			txscript.SigHashDefault, privkey,
		)
		if err != nil {
			return fmt.Errorf("failed to sign input %d: %w", i, err)
		}
		tx.TxIn[i].Witness = witness
	}
	return nil
}

func (k *keyVault) derive(purpose keyPurpose) (*hdkeychain.ExtendedKey, string, error) {
	var (
		account *hdkeychain.ExtendedKey
		path    string
		branch  uint32
	)
	coin := 0
	if k.network.Name != chaincfg.MainNetParams.Name {
		coin = 1
	}

	switch purpose.chain {
	case receiveChain:
		account, branch = k.walletAccount, 0
		path = fmt.Sprintf("m/86'/%d'/0'/0/%d", coin, purpose.index)
	case changeChain:
		account, branch = k.walletAccount, 1
		path = fmt.Sprintf("m/86'/%d'/0'/1/%d", coin, purpose.index)
	case issuerChain:
		account, branch = k.issuerAccount, 0
		path = fmt.Sprintf("m/86'/%d'/1'/0/%d", coin, purpose.index)
	case blindingChain:
		account, branch = k.blindingAccount, 0
		path = fmt.Sprintf("m/86'/%d'/2'/0/%d", coin, purpose.index)
	default:
		return nil, "", fmt.Errorf("unknown key purpose %s", purpose)
	}

	key, err := account.Derive(branch)
	if err != nil {
		return nil, "", err
	}
	key, err = key.Derive(purpose.index)
	if err != nil {
		return nil, "", err
	}
	return key, path, nil
}
