package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// redactedValue は秘匿情報を置き換えるプレースホルダー。
const redactedValue = "***REDACTED***"

// sensitiveKeyPatterns はログに出力してはならない属性キーのパターン。
// Bearerトークンやパスワードが誤ってログに残らないようにする。
var sensitiveKeyPatterns = []string{
	"password",
	"secret",
	"token",
	"authorization",
	"cookie",
}

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
// writerが指定された場合はそのwriterに出力する。
// 秘匿情報を示すキーの文字列値はマスクされる。
func Setup(w io.Writer) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       slog.LevelInfo,
		ReplaceAttr: redactAttr,
	})
	return slog.New(handler)
}

// SetupDefault はJSON構造化ログ出力をグローバルロガーとして設定する。
// writerが指定された場合はそのwriterに出力する。
// 本番ではos.Stdoutを渡すことを想定している。
func SetupDefault(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	logger := Setup(w)
	slog.SetDefault(logger)
}

// redactAttr はキー名が秘匿情報を示す文字列属性をマスクする。
func redactAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindString || a.Value.String() == "" {
		return a
	}
	key := strings.ToLower(a.Key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(key, pattern) {
			return slog.String(a.Key, redactedValue)
		}
	}
	return a
}
