package wallet

// Capability 是一个可选的钱包能力。
type Capability string

const (
	CapabilityDisconnect      Capability = "disconnect"
	CapabilitySignTransaction Capability = "sign-transaction"
	CapabilitySignMessage     Capability = "sign-message"
)

// Capabilities 记录某一次连接实例具备哪些能力。缺失能力是正常状态，直到被调用。
// Selected 为 false 时没有任何钱包可用，所有能力都视为缺失。
type Capabilities struct {
	Selected        bool
	Connected       bool
	Disconnect      bool
	SignTransaction bool
	SignMessage     bool
}

// Has 判断是否具备指定能力。
func (c Capabilities) Has(capability Capability) bool {
	switch capability {
	case CapabilityDisconnect:
		return c.Disconnect
	case CapabilitySignTransaction:
		return c.SignTransaction
	case CapabilitySignMessage:
		return c.SignMessage
	default:
		return false
	}
}

// List 返回具备的能力列表，顺序固定。
func (c Capabilities) List() []Capability {
	out := make([]Capability, 0, 3)
	for _, capability := range []Capability{CapabilityDisconnect, CapabilitySignTransaction, CapabilitySignMessage} {
		if c.Has(capability) {
			out = append(out, capability)
		}
	}
	return out
}

func capabilitiesOf(ext Extension, conn *Connection) Capabilities {
	if conn == nil {
		return Capabilities{Selected: ext != nil}
	}
	return Capabilities{
		Selected:        ext != nil,
		Connected:       true,
		Disconnect:      conn.Disconnect != nil,
		SignTransaction: conn.SignTransaction != nil,
		SignMessage:     conn.SignMessage != nil,
	}
}
