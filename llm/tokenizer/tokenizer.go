package tokenizer

import (
	"strings"
	"sync"

	"github.com/BaSui01/config2flow/llm"
)

// Tokenizer是统一的代号计数界面.
type Tokenizer interface {
	// CountTokens 返回给定文本的 token 数.
	CountTokens(text string) (int, error)

	// CountMessages 返回消息列表的总 token 数,
	// 包括每条消息的开销（角色标记、分隔符等）。
	CountMessages(messages []llm.Message) (int, error)

	// MaxTokens 返回模型的最大上下文长度.
	MaxTokens() int

	Name() string
}

var (
	cache   = make(map[string]Tokenizer)
	cacheMu sync.Mutex
)

// ForModel 返回模型对应的分词器，结果按模型名缓存。
func ForModel(model string) Tokenizer {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	if t, ok := cache[model]; ok {
		return t
	}
	var t Tokenizer
	if usesTiktoken(model) {
		t = NewTiktokenTokenizer(model)
	} else {
		t = NewEstimatorTokenizer(model, 0)
	}
	cache[model] = t
	return t
}

// Estimate 计算消息的 token 数。tiktoken 不可用（例如离线无法下载编码表）时回退到估算器。
func Estimate(model string, messages []llm.Message) int {
	n, err := ForModel(model).CountMessages(messages)
	if err == nil {
		return n
	}
	n, _ = NewEstimatorTokenizer(model, 0).CountMessages(messages)
	return n
}

func usesTiktoken(model string) bool {
	m := strings.ToLower(model)
	for _, prefix := range []string{"gpt-", "o1", "o3", "o4", "text-embedding-", "deepseek"} {
		if strings.HasPrefix(m, prefix) {
			return true
		}
	}
	return false
}
