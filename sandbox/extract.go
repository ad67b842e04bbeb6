package sandbox

import (
	"regexp"
	"strings"
)

var codeFence = regexp.MustCompile("(?s)```(python|py|lua)[ \\t]*\\r?\\n(.*?)\\r?\\n?```")

// ExtractCode 返回回复中第一个可执行的围栏代码块
func ExtractCode(reply string) (Language, string, bool) {
	m := codeFence.FindStringSubmatch(reply)
	if m == nil {
		return "", "", false
	}
	code := strings.TrimSpace(m[2])
	if code == "" {
		return "", "", false
	}
	lang := LangPython
	if m[1] == "lua" {
		lang = LangLua
	}
	return lang, code, true
}
