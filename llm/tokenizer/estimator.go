package tokenizer

import (
	"unicode"

	"github.com/BaSui01/config2flow/llm"
)

// 经验值：英文约 4 字符一个 token，中日韩文字约 1.5 字符一个 token
const (
	latinCharsPerToken = 4.0
	wideCharsPerToken  = 1.5

	perMessageOverhead = 4
	replyPrimingTokens = 3
)

// wideRanges 汉字、假名、谚文以及全角标点
var wideRanges = []*unicode.RangeTable{
	unicode.Han,
	unicode.Hiragana,
	unicode.Katakana,
	unicode.Hangul,
	{R16: []unicode.Range16{
		{Lo: 0x3000, Hi: 0x303F, Stride: 1},
		{Lo: 0xFF00, Hi: 0xFFEF, Stride: 1},
	}},
}

// EstimatorTokenizer 不依赖编码表的离线估算器，Anthropic、Gemini 等模型走这里
type EstimatorTokenizer struct {
	model     string
	maxTokens int
}

// NewEstimatorTokenizer maxTokens<=0 时取 4096
func NewEstimatorTokenizer(model string, maxTokens int) *EstimatorTokenizer {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &EstimatorTokenizer{model: model, maxTokens: maxTokens}
}

// CountTokens 非空文本至少记 1 个 token
func (e *EstimatorTokenizer) CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	var wide, latin float64
	for _, r := range text {
		if unicode.In(r, wideRanges...) {
			wide++
		} else {
			latin++
		}
	}
	return max(1, int(wide/wideCharsPerToken+latin/latinCharsPerToken)), nil
}

// CountMessages 工具调用的名字和参数也计入
func (e *EstimatorTokenizer) CountMessages(messages []llm.Message) (int, error) {
	total := replyPrimingTokens
	for _, msg := range messages {
		total += perMessageOverhead
		parts := []string{msg.Content}
		for _, tc := range msg.ToolCalls {
			parts = append(parts, tc.Name, string(tc.Arguments))
		}
		for _, p := range parts {
			n, err := e.CountTokens(p)
			if err != nil {
				return 0, err
			}
			total += n
		}
	}
	return total, nil
}

func (e *EstimatorTokenizer) MaxTokens() int { return e.maxTokens }

func (e *EstimatorTokenizer) Name() string { return "estimator" }
