package swapdb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/xswaplabs/xswap/swap"
)

var byteOrder = binary.BigEndian

// writeString writes a length prefixed string.
func writeString(w io.Writer, s string) error {
	if len(s) > 65535 {
		return fmt.Errorf("string too long: %d bytes", len(s))
	}

	var l [2]byte
	byteOrder.PutUint16(l[:], uint16(len(s)))
	if _, err := w.Write(l[:]); err != nil {
		return err
	}

	_, err := w.Write([]byte(s))
	return err
}

// readString reads a length prefixed string.
func readString(r io.Reader) (string, error) {
	var l [2]byte
	if _, err := io.ReadFull(r, l[:]); err != nil {
		return "", err
	}

	b := make([]byte, byteOrder.Uint16(l[:]))
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}

	return string(b), nil
}

// writeTime writes a unix nanosecond timestamp. The zero time is
// stored as zero.
func writeTime(w io.Writer, t time.Time) error {
	var ns int64
	if !t.IsZero() {
		ns = t.UnixNano()
	}

	return binary.Write(w, byteOrder, ns)
}

// readTime reads a timestamp written by writeTime.
func readTime(r io.Reader) (time.Time, error) {
	var ns int64
	if err := binary.Read(r, byteOrder, &ns); err != nil {
		return time.Time{}, err
	}

	if ns == 0 {
		return time.Time{}, nil
	}

	return time.Unix(0, ns).UTC(), nil
}

// serializeOrder encodes an order for storage.
func serializeOrder(order *swap.Order) ([]byte, error) {
	var b bytes.Buffer

	if _, err := b.Write(order.ID[:]); err != nil {
		return nil, err
	}

	for _, s := range []string{
		order.Maker, order.Taker, order.TokenIn, order.TokenOut,
	} {
		if err := writeString(&b, s); err != nil {
			return nil, err
		}
	}

	for _, v := range []uint64{
		uint64(order.AmountIn), uint64(order.StartRate),
		uint64(order.EndRate), uint64(order.MatchedRate),
	} {
		if err := binary.Write(&b, byteOrder, v); err != nil {
			return nil, err
		}
	}

	for _, t := range []time.Time{
		order.AuctionStart, order.AuctionEnd, order.Deadline,
		order.SourceTimelock, order.DestTimelock, order.CreatedAt,
	} {
		if err := writeTime(&b, t); err != nil {
			return nil, err
		}
	}

	if _, err := b.Write(order.Hashlock[:]); err != nil {
		return nil, err
	}

	var preimage lntypes.Preimage
	hasPreimage := byte(0)
	if order.Preimage != nil {
		hasPreimage = 1
		preimage = *order.Preimage
	}
	if err := b.WriteByte(hasPreimage); err != nil {
		return nil, err
	}
	if _, err := b.Write(preimage[:]); err != nil {
		return nil, err
	}

	for _, s := range []string{
		string(order.SourceChain), string(order.DestChain),
		string(order.SourceEscrow), string(order.DestEscrow),
		order.ResolverID, order.Label,
	} {
		if err := writeString(&b, s); err != nil {
			return nil, err
		}
	}

	if err := b.WriteByte(byte(order.Status)); err != nil {
		return nil, err
	}

	if err := binary.Write(&b, byteOrder, order.ProtocolFeeBps); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// deserializeOrder decodes an order written by serializeOrder.
func deserializeOrder(data []byte) (*swap.Order, error) {
	r := bytes.NewReader(data)
	order := &swap.Order{}

	if _, err := io.ReadFull(r, order.ID[:]); err != nil {
		return nil, err
	}

	for _, dst := range []*string{
		&order.Maker, &order.Taker, &order.TokenIn, &order.TokenOut,
	} {
		s, err := readString(r)
		if err != nil {
			return nil, err
		}
		*dst = s
	}

	var amountIn, startRate, endRate, matchedRate uint64
	for _, dst := range []*uint64{
		&amountIn, &startRate, &endRate, &matchedRate,
	} {
		if err := binary.Read(r, byteOrder, dst); err != nil {
			return nil, err
		}
	}
	order.AmountIn = swap.Amount(amountIn)
	order.StartRate = swap.Rate(startRate)
	order.EndRate = swap.Rate(endRate)
	order.MatchedRate = swap.Rate(matchedRate)

	for _, dst := range []*time.Time{
		&order.AuctionStart, &order.AuctionEnd, &order.Deadline,
		&order.SourceTimelock, &order.DestTimelock, &order.CreatedAt,
	} {
		t, err := readTime(r)
		if err != nil {
			return nil, err
		}
		*dst = t
	}

	if _, err := io.ReadFull(r, order.Hashlock[:]); err != nil {
		return nil, err
	}

	hasPreimage, err := readByte(r)
	if err != nil {
		return nil, err
	}

	var preimage lntypes.Preimage
	if _, err := io.ReadFull(r, preimage[:]); err != nil {
		return nil, err
	}
	if hasPreimage == 1 {
		order.Preimage = &preimage
	}

	var sourceChain, destChain, sourceEscrow, destEscrow string
	for _, dst := range []*string{
		&sourceChain, &destChain, &sourceEscrow, &destEscrow,
		&order.ResolverID, &order.Label,
	} {
		s, err := readString(r)
		if err != nil {
			return nil, err
		}
		*dst = s
	}
	order.SourceChain = swap.Chain(sourceChain)
	order.DestChain = swap.Chain(destChain)
	order.SourceEscrow = swap.EscrowID(sourceEscrow)
	order.DestEscrow = swap.EscrowID(destEscrow)

	status, err := readByte(r)
	if err != nil {
		return nil, err
	}
	order.Status = swap.Status(status)

	if err := binary.Read(r, byteOrder, &order.ProtocolFeeBps); err != nil {
		return nil, err
	}

	return order, nil
}

// serializeSecret encodes a secret record for storage.
func serializeSecret(secret *Secret) ([]byte, error) {
	var b bytes.Buffer

	if _, err := b.Write(secret.OrderID[:]); err != nil {
		return nil, err
	}

	var l [2]byte
	byteOrder.PutUint16(l[:], uint16(len(secret.EncryptedPreimage)))
	if _, err := b.Write(l[:]); err != nil {
		return nil, err
	}
	if _, err := b.Write(secret.EncryptedPreimage); err != nil {
		return nil, err
	}

	if _, err := b.Write(secret.Hashlock[:]); err != nil {
		return nil, err
	}

	if err := writeTime(&b, secret.RevealedAt); err != nil {
		return nil, err
	}

	if err := writeString(&b, secret.RevealedBy); err != nil {
		return nil, err
	}

	if err := writeString(&b, string(secret.RevealTxRef)); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// deserializeSecret decodes a secret written by serializeSecret.
func deserializeSecret(data []byte) (*Secret, error) {
	r := bytes.NewReader(data)
	secret := &Secret{}

	if _, err := io.ReadFull(r, secret.OrderID[:]); err != nil {
		return nil, err
	}

	var l [2]byte
	if _, err := io.ReadFull(r, l[:]); err != nil {
		return nil, err
	}
	secret.EncryptedPreimage = make([]byte, byteOrder.Uint16(l[:]))
	if _, err := io.ReadFull(r, secret.EncryptedPreimage); err != nil {
		return nil, err
	}

	if _, err := io.ReadFull(r, secret.Hashlock[:]); err != nil {
		return nil, err
	}

	revealedAt, err := readTime(r)
	if err != nil {
		return nil, err
	}
	secret.RevealedAt = revealedAt

	revealedBy, err := readString(r)
	if err != nil {
		return nil, err
	}
	secret.RevealedBy = revealedBy

	txRef, err := readString(r)
	if err != nil {
		return nil, err
	}
	secret.RevealTxRef = swap.TxRef(txRef)

	return secret, nil
}

// serializeResolver encodes a resolver record for storage.
func serializeResolver(resolver *Resolver) ([]byte, error) {
	var b bytes.Buffer

	if err := writeString(&b, resolver.Address); err != nil {
		return nil, err
	}

	active := byte(0)
	if resolver.IsActive {
		active = 1
	}
	if err := b.WriteByte(active); err != nil {
		return nil, err
	}

	for _, v := range []uint64{
		uint64(resolver.Collateral), resolver.TotalSwaps,
		resolver.SuccessfulSwaps,
	} {
		if err := binary.Write(&b, byteOrder, v); err != nil {
			return nil, err
		}
	}

	if err := writeString(&b, resolver.ReputationRef); err != nil {
		return nil, err
	}

	if err := writeTime(&b, resolver.RegisteredAt); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// deserializeResolver decodes a resolver written by serializeResolver.
func deserializeResolver(data []byte) (*Resolver, error) {
	r := bytes.NewReader(data)
	resolver := &Resolver{}

	address, err := readString(r)
	if err != nil {
		return nil, err
	}
	resolver.Address = address

	active, err := readByte(r)
	if err != nil {
		return nil, err
	}
	resolver.IsActive = active == 1

	var collateral uint64
	for _, dst := range []*uint64{
		&collateral, &resolver.TotalSwaps,
		&resolver.SuccessfulSwaps,
	} {
		if err := binary.Read(r, byteOrder, dst); err != nil {
			return nil, err
		}
	}
	resolver.Collateral = swap.Amount(collateral)

	reputationRef, err := readString(r)
	if err != nil {
		return nil, err
	}
	resolver.ReputationRef = reputationRef

	registeredAt, err := readTime(r)
	if err != nil {
		return nil, err
	}
	resolver.RegisteredAt = registeredAt

	return resolver, nil
}

// readByte reads a single byte.
func readByte(r io.Reader) (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}

	return b[0], nil
}

// itob returns an 8-byte big endian representation of v.
func itob(v uint64) []byte {
	b := make([]byte, 8)
	byteOrder.PutUint64(b, v)
	return b
}

// btoi returns the uint64 value of an 8-byte big endian slice.
func btoi(b []byte) uint64 {
	return byteOrder.Uint64(b)
}
