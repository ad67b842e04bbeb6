package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// 任意优先级组合下，低优先级层的所有节点都在高优先级层任何节点开始之前结束。
func TestProperty_TiersRunInPriorityOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("tier barrier respects priority", prop.ForAll(
		func(priorities []int) bool {
			var (
				mu    sync.Mutex
				clock int
				start = make(map[string]int)
				end   = make(map[string]int)
			)
			nodes := make([]Node, 0, len(priorities))
			for i, p := range priorities {
				name := fmt.Sprintf("n%d", i)
				nodes = append(nodes, newFake(name, float64(p), nil, nil, func(context.Context, Variables) (Variables, error) {
					mu.Lock()
					clock++
					start[name] = clock
					mu.Unlock()
					mu.Lock()
					clock++
					end[name] = clock
					mu.Unlock()
					return Variables{name: true}, nil
				}))
			}
			wf, err := NewDefaultWorkflow(workflowCfg("wf", nil, nil), nodes, Options{MaxConcurrency: 3})
			if err != nil {
				return false
			}
			out, err := wf.Run(context.Background(), Variables{}, nil)
			if err != nil || len(out) != len(priorities) {
				return false
			}
			for i, pi := range priorities {
				for j, pj := range priorities {
					if pi < pj && end[fmt.Sprintf("n%d", i)] > start[fmt.Sprintf("n%d", j)] {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOfN(8, gen.IntRange(1, 4)),
	))

	properties.TestingRun(t)
}

// 声明了 output_vars 的工作流只返回这些变量，不多不少。
func TestProperty_OutputIsExactlyDeclared(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	produced := []string{"a", "b", "c", "d", "e", "f"}
	properties.Property("result keys equal declared outputs", prop.ForAll(
		func(mask []bool) bool {
			var declared []string
			for i, keep := range mask {
				if keep {
					declared = append(declared, produced[i])
				}
			}
			if len(declared) == 0 {
				return true
			}
			out := Variables{}
			for _, name := range produced {
				out[name] = name
			}
			wf, err := NewDefaultWorkflow(workflowCfg("wf", nil, declared), []Node{
				constNode("producer", 1, out),
			}, Options{})
			if err != nil {
				return false
			}
			result, err := wf.Run(context.Background(), Variables{"input": 1}, nil)
			if err != nil {
				return false
			}
			keys := sortedKeys(result)
			sort.Strings(declared)
			return fmt.Sprint(keys) == fmt.Sprint(declared)
		},
		gen.SliceOfN(len(produced), gen.Bool()),
	))

	properties.TestingRun(t)
}

// 循环轮数 = min(条件首次成立的轮次, max_loops)，且从不超过 max_loops。
func TestProperty_LoopIterationsBounded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("iterations never exceed max_loops", prop.ForAll(
		func(maxLoops, trueAt int) bool {
			calls := 0
			watchdog := newFake("watchdog", 1, nil, []string{"round"}, func(context.Context, Variables) (Variables, error) {
				calls++
				return Variables{"round": calls}, nil
			})
			loop, err := NewLoopWorkflow(
				loopCfg("loop", fmt.Sprintf("round >= %d", trueAt), maxLoops, nil, nil),
				[]Node{constNode("worker", 1, Variables{"x": 1})}, watchdog, Options{})
			if err != nil {
				return false
			}
			if _, err := loop.Run(context.Background(), Variables{}, nil); err != nil {
				return false
			}
			want := trueAt
			if maxLoops < want {
				want = maxLoops
			}
			return loop.LastIterations() == want && calls == want
		},
		gen.IntRange(1, 6),
		gen.IntRange(1, 10),
	))

	properties.TestingRun(t)
}
