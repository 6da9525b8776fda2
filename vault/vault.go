// Package vault generates, stores and releases swap preimages. A
// preimage is encrypted at rest before any escrow is funded and is
// never handed out until its hashlock is committed into both legs'
// escrows: releasing it earlier would let a counterparty claim funds
// on one chain with nothing locked on the other.
package vault

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/xswaplabs/xswap/swap"
	"github.com/xswaplabs/xswap/swapdb"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	// ErrNotFunded is returned when a secret is requested before both
	// legs of its order are funded.
	ErrNotFunded = errors.New("secret not releasable until both " +
		"escrow legs are funded")

	// ErrSecretExists is returned when generating a second secret for
	// the same order.
	ErrSecretExists = errors.New("secret already generated for order")
)

// Store is the slice of the database the vault works through.
type Store interface {
	// CreateSecret persists a new secret record.
	CreateSecret(ctx context.Context, secret *swapdb.Secret) error

	// FetchSecret returns the secret record of an order.
	FetchSecret(ctx context.Context, id swap.OrderID) (*swapdb.Secret,
		error)

	// MarkSecretRevealed records an observed on-chain reveal once.
	MarkSecretRevealed(ctx context.Context, id swap.OrderID,
		revealedBy string, txRef swap.TxRef,
		revealedAt time.Time) error

	// FetchOrder returns the order record, used to verify the funding
	// state of both legs before a secret is released.
	FetchOrder(ctx context.Context, id swap.OrderID) (*swap.Order,
		error)
}

// Vault holds the encryption key and mediates all preimage access.
type Vault struct {
	store Store
	aead  cipher.AEAD
}

// New creates a vault sealing secrets under the given 32 byte key.
func New(store Store, key []byte) (*Vault, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("vault key: %w", err)
	}

	return &Vault{
		store: store,
		aead:  aead,
	}, nil
}

// Generate draws the preimage for a new order and stores it encrypted.
// Order ids are derived from their hashlock, so the caller passes a
// derivation function that is invoked with the fresh hashlock; the
// plaintext itself never leaves the vault.
func (v *Vault) Generate(ctx context.Context,
	derive func(hashlock lntypes.Hash) swap.OrderID) (swap.OrderID,
	lntypes.Hash, error) {

	var preimage lntypes.Preimage
	if _, err := rand.Read(preimage[:]); err != nil {
		return swap.OrderID{}, lntypes.Hash{}, err
	}

	hashlock := preimage.Hash()
	orderID := derive(hashlock)

	if _, err := v.store.FetchSecret(ctx, orderID); err == nil {
		return swap.OrderID{}, lntypes.Hash{}, ErrSecretExists
	}

	ciphertext, err := v.seal(orderID, preimage)
	if err != nil {
		return swap.OrderID{}, lntypes.Hash{}, err
	}

	err = v.store.CreateSecret(ctx, &swapdb.Secret{
		OrderID:           orderID,
		EncryptedPreimage: ciphertext,
		Hashlock:          hashlock,
	})
	if err != nil {
		return swap.OrderID{}, lntypes.Hash{}, err
	}

	log.Debugf("Generated secret for order %v, hashlock=%v",
		swap.ShortID(orderID), hashlock)

	return orderID, hashlock, nil
}

// CaptureReveal records a preimage observed in an on-chain claim. It
// is called only in response to an EscrowClaimed event. A hash
// mismatch here means a protocol bug or an adversarial event feed, so
// it is raised as an alert.
func (v *Vault) CaptureReveal(ctx context.Context, orderID swap.OrderID,
	preimage lntypes.Preimage, revealedBy string, txRef swap.TxRef,
	revealedAt time.Time) error {

	secret, err := v.store.FetchSecret(ctx, orderID)
	if err != nil {
		return err
	}

	if !preimage.Matches(secret.Hashlock) {
		log.Criticalf("ALERT: revealed preimage for order %v does "+
			"not match stored hashlock %v, revealed_by=%v tx=%v",
			swap.ShortID(orderID), secret.Hashlock, revealedBy,
			txRef)

		return swap.ErrHashMismatch
	}

	return v.store.MarkSecretRevealed(
		ctx, orderID, revealedBy, txRef, revealedAt,
	)
}

// Retrieve decrypts and returns the preimage for the second leg claim.
// It refuses while either escrow leg is missing: the funding guard is
// enforced here, independently of the coordinator's own sequencing.
func (v *Vault) Retrieve(ctx context.Context, orderID swap.OrderID) (
	lntypes.Preimage, error) {

	order, err := v.store.FetchOrder(ctx, orderID)
	if err != nil {
		return lntypes.Preimage{}, err
	}

	if !bothLegsFunded(order) {
		return lntypes.Preimage{}, ErrNotFunded
	}

	secret, err := v.store.FetchSecret(ctx, orderID)
	if err != nil {
		return lntypes.Preimage{}, err
	}

	preimage, err := v.open(orderID, secret.EncryptedPreimage)
	if err != nil {
		return lntypes.Preimage{}, err
	}

	// Decryption cannot be trusted blindly across key rotations, so
	// re-check against the stored hashlock.
	if !preimage.Matches(secret.Hashlock) {
		return lntypes.Preimage{}, swap.ErrHashMismatch
	}

	return preimage, nil
}

// bothLegsFunded reports whether the order has confirmed escrows on
// both chains.
func bothLegsFunded(order *swap.Order) bool {
	if order.SourceEscrow == "" || order.DestEscrow == "" {
		return false
	}

	switch order.Status {
	case swap.StatusDstEscrowed, swap.StatusSrcClaimed,
		swap.StatusDstClaimed, swap.StatusCompleted:

		return true

	default:
		return false
	}
}

// seal encrypts the preimage, binding the ciphertext to the order id.
func (v *Vault) seal(orderID swap.OrderID, preimage lntypes.Preimage) (
	[]byte, error) {

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	return v.aead.Seal(nonce, nonce, preimage[:], orderID[:]), nil
}

// open decrypts a ciphertext produced by seal.
func (v *Vault) open(orderID swap.OrderID, ciphertext []byte) (
	lntypes.Preimage, error) {

	if len(ciphertext) < chacha20poly1305.NonceSizeX {
		return lntypes.Preimage{}, errors.New("ciphertext too short")
	}

	nonce := ciphertext[:chacha20poly1305.NonceSizeX]
	plaintext, err := v.aead.Open(
		nil, nonce, ciphertext[chacha20poly1305.NonceSizeX:],
		orderID[:],
	)
	if err != nil {
		return lntypes.Preimage{}, err
	}

	return lntypes.MakePreimage(plaintext)
}
