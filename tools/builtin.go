package tools

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/BaSui01/config2flow/workflow/expr"
)

type CalculatorArgs struct {
	Expression string `json:"expression" jsonschema:"required,description=Arithmetic expression such as (2 + 3) * 4"`
}

type CurrentTimeArgs struct {
	Timezone string `json:"timezone,omitempty" jsonschema:"description=IANA timezone name; defaults to UTC"`
	Layout   string `json:"layout,omitempty" jsonschema:"description=Go time layout; defaults to RFC3339"`
}

type WordCountArgs struct {
	Text string `json:"text" jsonschema:"required,description=Text to analyse"`
}

type WordCountResult struct {
	Words      int `json:"words"`
	Characters int `json:"characters"`
	Lines      int `json:"lines"`
}

// Builtins 返回内置工具集合
func Builtins() []Tool {
	return []Tool{
		MustFunc("calculator", "Evaluate an arithmetic or comparison expression and return the result.", calculator),
		MustFunc("current_time", "Return the current date and time.", currentTime),
		MustFunc("word_count", "Count words, characters and lines of a text.", wordCount),
	}
}

func calculator(_ context.Context, in CalculatorArgs) (any, error) {
	if strings.TrimSpace(in.Expression) == "" {
		return nil, fmt.Errorf("expression is empty")
	}
	// 只允许字面量运算：不传入任何变量
	v, err := expr.Eval(in.Expression, nil)
	if err != nil {
		return nil, err
	}
	return expr.FormatValue(v), nil
}

func currentTime(_ context.Context, in CurrentTimeArgs) (any, error) {
	loc := time.UTC
	if in.Timezone != "" {
		l, err := time.LoadLocation(in.Timezone)
		if err != nil {
			return nil, fmt.Errorf("unknown timezone %q", in.Timezone)
		}
		loc = l
	}
	layout := in.Layout
	if layout == "" {
		layout = time.RFC3339
	}
	return time.Now().In(loc).Format(layout), nil
}

func wordCount(_ context.Context, in WordCountArgs) (any, error) {
	lines := 0
	if in.Text != "" {
		lines = strings.Count(in.Text, "\n") + 1
	}
	return WordCountResult{
		Words:      len(strings.Fields(in.Text)),
		Characters: utf8.RuneCountInString(in.Text),
		Lines:      lines,
	}, nil
}
