package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Wallet is the source of the signing identity. Signer is called before
// every write so that an account switch underneath is picked up.
type Wallet interface {
	// Account asks for access and returns the wallet's current account.
	Account(ctx context.Context) (common.Address, error)
	// Signer returns fresh transaction options for the current account.
	Signer(ctx context.Context) (*bind.TransactOpts, error)
}

// KeyWallet signs with a raw secp256k1 private key.
type KeyWallet struct {
	key     *ecdsa.PrivateKey
	chainID *big.Int
}

// NewKeyWallet parses a hex private key, with or without 0x prefix.
func NewKeyWallet(hexKey string, chainID *big.Int) (*KeyWallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("error parsing private key: %w", err)
	}
	return &KeyWallet{key: key, chainID: chainID}, nil
}

// GenerateKeyWallet creates a wallet with a throwaway key.
func GenerateKeyWallet(chainID *big.Int) (*KeyWallet, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return &KeyWallet{key: key, chainID: chainID}, nil
}

func (w *KeyWallet) Account(context.Context) (common.Address, error) {
	return crypto.PubkeyToAddress(w.key.PublicKey), nil
}

func (w *KeyWallet) Signer(ctx context.Context) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(w.key, w.chainID)
	if err != nil {
		return nil, err
	}
	opts.Context = ctx
	return opts, nil
}

// KeystoreWallet unlocks an encrypted go-ethereum keystore file. A wrong
// passphrase is reported as ErrUserRejected.
type KeystoreWallet struct {
	keyJSON    []byte
	passphrase string
	chainID    *big.Int

	mu  sync.Mutex
	key *keystore.Key
}

func NewKeystoreWallet(keyJSON []byte, passphrase string, chainID *big.Int) *KeystoreWallet {
	return &KeystoreWallet{keyJSON: keyJSON, passphrase: passphrase, chainID: chainID}
}

func OpenKeystoreWallet(path, passphrase string, chainID *big.Int) (*KeystoreWallet, error) {
	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWalletUnavailable, err)
	}
	return NewKeystoreWallet(keyJSON, passphrase, chainID), nil
}

func (w *KeystoreWallet) unlock() (*keystore.Key, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.key != nil {
		return w.key, nil
	}
	key, err := keystore.DecryptKey(w.keyJSON, w.passphrase)
	if err != nil {
		if errors.Is(err, keystore.ErrDecrypt) {
			return nil, fmt.Errorf("%w: %w", ErrUserRejected, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrWalletUnavailable, err)
	}
	w.key = key
	return key, nil
}

func (w *KeystoreWallet) Account(context.Context) (common.Address, error) {
	key, err := w.unlock()
	if err != nil {
		return common.Address{}, err
	}
	return key.Address, nil
}

func (w *KeystoreWallet) Signer(ctx context.Context) (*bind.TransactOpts, error) {
	key, err := w.unlock()
	if err != nil {
		return nil, err
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key.PrivateKey, w.chainID)
	if err != nil {
		return nil, err
	}
	opts.Context = ctx
	return opts, nil
}

// ParseAddress accepts a 0x-prefixed 20-byte hex address.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(strings.ToLower(s), "0x") || !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return common.HexToAddress(s), nil
}
