package wallet

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Account 是当前钱包关联的公钥，可能不存在。
type Account struct {
	key     solana.PublicKey
	present bool
}

// NoAccount 返回"无账户"。
func NoAccount() Account { return Account{} }

// AccountOf 用给定公钥构造账户。
func AccountOf(pk solana.PublicKey) Account {
	return Account{key: pk, present: true}
}

// AccountFromBytes 要求恰好 32 字节。
func AccountFromBytes(raw []byte) (Account, error) {
	if len(raw) != solana.PublicKeyLength {
		return Account{}, fmt.Errorf("account must be %d bytes, got %d", solana.PublicKeyLength, len(raw))
	}
	return AccountOf(solana.PublicKeyFromBytes(raw)), nil
}

// Present 表示是否存在已连接账户。
func (a Account) Present() bool { return a.present }

// PublicKey 返回公钥及其是否存在。
func (a Account) PublicKey() (solana.PublicKey, bool) {
	return a.key, a.present
}

// Bytes 返回公钥字节副本，账户不存在时返回 nil。
func (a Account) Bytes() []byte {
	if !a.present {
		return nil
	}
	out := make([]byte, len(a.key))
	copy(out, a.key[:])
	return out
}

// Equal 按字节比较，"无账户"与"无账户"相等。
func (a Account) Equal(other Account) bool {
	if a.present != other.present {
		return false
	}
	return !a.present || a.key == other.key
}

func (a Account) String() string {
	if !a.present {
		return "none"
	}
	return a.key.String()
}
