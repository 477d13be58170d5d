package pix

import (
	"crypto/rand"
	"math/big"
)

const (
	TxidMinLength = 26
	TxidMaxLength = 35

	txidAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	txidLength   = 32
)

// NewTxid returns a random alphanumeric txid accepted by the Pix charge API.
func NewTxid() string {
	b := make([]byte, txidLength)
	max := big.NewInt(int64(len(txidAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		b[i] = txidAlphabet[n.Int64()]
	}
	return string(b)
}

// ValidTxid reports whether txid is 26 to 35 ASCII letters or digits.
func ValidTxid(txid string) bool {
	if len(txid) < TxidMinLength || len(txid) > TxidMaxLength {
		return false
	}
	for i := 0; i < len(txid); i++ {
		c := txid[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}
