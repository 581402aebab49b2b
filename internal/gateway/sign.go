package gateway

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"sort"
	"strings"
)

// SignString 待签名串：剔除 sign、sign_type 和空值，按 key 升序拼接 k=v&k=v
func SignString(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == "sign" || k == "sign_type" || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}

// Sign 易支付 MD5 签名：md5(待签名串 + 商户密钥)，小写十六进制
// 密钥直接拼接在末尾，中间没有分隔符
func Sign(params map[string]string, key string) string {
	sum := md5.Sum([]byte(SignString(params) + key))
	return hex.EncodeToString(sum[:])
}

// Verify 重新计算签名并与 params["sign"] 比较
func Verify(params map[string]string, key string) bool {
	received := strings.ToLower(params["sign"])
	if received == "" {
		return false
	}
	expected := Sign(params, key)
	return subtle.ConstantTimeCompare([]byte(received), []byte(expected)) == 1
}
