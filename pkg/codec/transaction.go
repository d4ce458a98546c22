package codec

import (
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/aegis-sign/wallet-bridge/pkg/apierrors"
)

// ParseTransaction 将线上格式的 versioned transaction（legacy 或 v0）解析为结构体。
// 不做任何语义校验（fee payer、指令、签名者集合）。
func ParseTransaction(raw []byte) (tx *solana.Transaction, err error) {
	if len(raw) == 0 {
		return nil, apierrors.New(apierrors.CodeMalformedTransaction, "transaction payload is empty")
	}
	defer func() {
		if r := recover(); r != nil {
			tx = nil
			err = apierrors.New(apierrors.CodeMalformedTransaction, fmt.Sprintf("transaction decode panicked: %v", r))
		}
	}()
	decoder := bin.NewBinDecoder(raw)
	parsed, decodeErr := solana.TransactionFromDecoder(decoder)
	if decodeErr != nil {
		return nil, apierrors.Wrap(apierrors.CodeMalformedTransaction, "invalid versioned transaction", decodeErr)
	}
	if rest := decoder.Remaining(); rest != 0 {
		return nil, apierrors.New(apierrors.CodeMalformedTransaction, fmt.Sprintf("invalid versioned transaction: %d trailing bytes", rest))
	}
	return parsed, nil
}

// SerializeTransaction 按线上格式重新序列化交易，结果是确定性的。
func SerializeTransaction(tx *solana.Transaction) ([]byte, error) {
	if tx == nil {
		return nil, apierrors.New(apierrors.CodeMalformedTransaction, "transaction is nil")
	}
	out, err := tx.MarshalBinary()
	if err != nil {
		return nil, apierrors.Wrap(apierrors.CodeMalformedTransaction, "serialize transaction", err)
	}
	return out, nil
}
