package swap

// CalcProtocolFee returns the protocol fee charged on amount at the
// given fee rate in basis points.
func CalcProtocolFee(amount Amount, feeBps uint32) Amount {
	return amount * Amount(feeBps) / 10000
}
