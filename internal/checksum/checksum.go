// Package checksum はマイグレーション本文のダイジェスト計算を提供する。
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// Of は内容のSHA-256を小文字16進数（64文字）で返す。
func Of(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Match は記録済みのチェックサムと内容のチェックサムが一致するかを返す。
func Match(expected, content string) bool {
	return Of(content) == expected
}
