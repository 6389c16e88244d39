package params

// PaymentID constants shared by the transaction extra codec and the wallet's
// encrypted-payment-id helpers (TxExtraNonce sub-tag 0x00).
const (
	// PaymentIDSize is the length in bytes of a payment id carried in extra.
	PaymentIDSize = 32

	// EncryptedPaymentIDSize is the length of the 8-byte short encrypted
	// payment id carried by lite wallets that cannot decrypt the full id.
	EncryptedPaymentIDSize = 8
)
