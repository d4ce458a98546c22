// Package codectest 提供手工拼装的线上格式交易，供各包测试复用。
package codectest

import (
	"encoding/binary"

	"github.com/gagliardetto/solana-go"
)

// SystemProgram 是系统程序的全零公钥。
var SystemProgram = solana.PublicKey{}

// LegacyTransfer 返回一笔未签名的 legacy 转账交易。
func LegacyTransfer(payer, to solana.PublicKey, lamports uint64) []byte {
	return transfer(false, payer, to, lamports)
}

// V0Transfer 返回一笔未签名的 v0 转账交易（无地址查找表）。
func V0Transfer(payer, to solana.PublicKey, lamports uint64) []byte {
	return transfer(true, payer, to, lamports)
}

func transfer(versioned bool, payer, to solana.PublicKey, lamports uint64) []byte {
	out := []byte{1}
	out = append(out, make([]byte, 64)...)
	if versioned {
		out = append(out, 0x80)
	}
	// header: 1 signer, 0 readonly signed, 1 readonly unsigned (system program)
	out = append(out, 1, 0, 1)
	out = append(out, 3)
	out = append(out, payer[:]...)
	out = append(out, to[:]...)
	out = append(out, SystemProgram[:]...)
	blockhash := make([]byte, 32)
	for i := range blockhash {
		blockhash[i] = 0x22
	}
	out = append(out, blockhash...)

	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[:4], 2)
	binary.LittleEndian.PutUint64(data[4:], lamports)

	out = append(out, 1) // instructions
	out = append(out, 2) // program id index
	// account indexes: payer, to
	out = append(out, 2, 0, 1)
	out = append(out, byte(len(data)))
	out = append(out, data...)
	if versioned {
		out = append(out, 0) // address table lookups
	}
	return out
}

// Key 返回每个字节都为 b 的公钥，便于断言。
func Key(b byte) solana.PublicKey {
	var pk solana.PublicKey
	for i := range pk {
		pk[i] = b
	}
	return pk
}
