package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/BaSui01/config2flow/llm"
)

const (
	defaultEncoding  = "cl100k_base"
	defaultMaxTokens = 8192
)

type encodingSpec struct {
	prefix    string
	encoding  string
	maxTokens int
}

// encodingTable 按前缀匹配，长前缀必须排在短前缀前面
var encodingTable = []encodingSpec{
	{"gpt-4o-mini", "o200k_base", 128000},
	{"gpt-4o", "o200k_base", 128000},
	{"o1", "o200k_base", 200000},
	{"o3", "o200k_base", 200000},
	{"o4", "o200k_base", 200000},
	{"gpt-4-turbo", defaultEncoding, 128000},
	{"gpt-4", defaultEncoding, 8192},
	{"gpt-3.5-turbo", defaultEncoding, 16385},
	{"text-embedding-3", defaultEncoding, 8191},
	{"deepseek", defaultEncoding, 65536},
}

// encoders 编码表进程内只加载一次，所有实例共享
var encoders sync.Map // encoding name → func() (*tiktoken.Tiktoken, error)

func loadEncoding(name string) (*tiktoken.Tiktoken, error) {
	load, _ := encoders.LoadOrStore(name, sync.OnceValues(func() (*tiktoken.Tiktoken, error) {
		return tiktoken.GetEncoding(name)
	}))
	enc, err := load.(func() (*tiktoken.Tiktoken, error))()
	if err != nil {
		return nil, fmt.Errorf("init tiktoken encoding %s: %w", name, err)
	}
	return enc, nil
}

// TiktokenTokenizer OpenAI 系列模型的精确计数。编码表首次使用时才加载，可能需要联网下载
type TiktokenTokenizer struct {
	model     string
	encoding  string
	maxTokens int
}

// NewTiktokenTokenizer 未知模型按 cl100k_base / 8192 处理
func NewTiktokenTokenizer(model string) *TiktokenTokenizer {
	t := &TiktokenTokenizer{model: model, encoding: defaultEncoding, maxTokens: defaultMaxTokens}
	lower := strings.ToLower(model)
	for _, spec := range encodingTable {
		if strings.HasPrefix(lower, spec.prefix) {
			t.encoding, t.maxTokens = spec.encoding, spec.maxTokens
			break
		}
	}
	return t
}

func (t *TiktokenTokenizer) CountTokens(text string) (int, error) {
	enc, err := loadEncoding(t.encoding)
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

// CountMessages 与估算器同样的消息开销规则，工具调用的名字和参数也计入
func (t *TiktokenTokenizer) CountMessages(messages []llm.Message) (int, error) {
	enc, err := loadEncoding(t.encoding)
	if err != nil {
		return 0, err
	}
	count := func(s string) int { return len(enc.Encode(s, nil, nil)) }

	total := replyPrimingTokens
	for _, msg := range messages {
		total += perMessageOverhead + count(string(msg.Role)) + count(msg.Content)
		for _, tc := range msg.ToolCalls {
			total += count(tc.Name) + count(string(tc.Arguments))
		}
	}
	return total, nil
}

func (t *TiktokenTokenizer) Encoding() string { return t.encoding }
func (t *TiktokenTokenizer) MaxTokens() int   { return t.maxTokens }
func (t *TiktokenTokenizer) Name() string     { return "tiktoken[" + t.encoding + "]" }
