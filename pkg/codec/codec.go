package codec

import (
	"encoding/base64"
	"strings"

	"github.com/aegis-sign/wallet-bridge/pkg/apierrors"
)

// 跨边界的二进制载荷统一使用带填充的标准 base64。
var payloadEncoding = base64.StdEncoding.Strict()

// Encode 将任意字节编码为可跨文本边界传输的 base64 字符串。
func Encode(payload []byte) string {
	return payloadEncoding.EncodeToString(payload)
}

// Decode 是 Encode 的严格逆操作，输入非法时返回 MALFORMED_PAYLOAD。
func Decode(text string) ([]byte, error) {
	// encoding/base64 会静默跳过换行符，这里必须显式拒绝。
	if strings.ContainsAny(text, "\r\n") {
		return nil, apierrors.New(apierrors.CodeMalformedPayload, "payload is not valid base64: contains line breaks")
	}
	decoded, err := payloadEncoding.DecodeString(text)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.CodeMalformedPayload, "payload is not valid base64", err)
	}
	return decoded, nil
}
