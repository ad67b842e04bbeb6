package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BaSui01/config2flow/app"
	"github.com/BaSui01/config2flow/internal/telemetry"
)

// =============================================================================
// ▶️ run 命令
// =============================================================================

func newRunCmd(c *cli) *cobra.Command {
	var (
		appPath    string
		inputs     []string
		inputsFile string
		traceOut   string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an app once and print its outputs as JSON",
		Example: `  config2flow run --config translate.yaml --input text="hello world"
  config2flow run -c translate.yaml --inputs-file inputs.json --trace-out trace.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := c.runLogger()
			defer logger.Sync()

			providers, err := telemetry.Init(c.cfg.Telemetry, logger)
			if err != nil {
				logger.Warn("failed to initialize telemetry", zap.Error(err))
			} else {
				defer providers.Shutdown(context.WithoutCancel(ctx))
			}

			env, err := c.newRunEnv(ctx, logger, nil)
			if err != nil {
				return err
			}
			defer env.Close(logger)

			a, err := env.factory.CreateFromFile(ctx, appPath)
			if err != nil {
				return err
			}

			values, err := collectInputs(a, inputsFile, inputs)
			if err != nil {
				return err
			}

			res, runErr := a.Run(ctx, values)
			if res != nil && traceOut != "" && res.Trace != nil {
				if err := writeJSONFile(traceOut, res.Trace); err != nil {
					logger.Warn("failed to write trace", zap.String("path", traceOut), zap.Error(err))
				}
			}
			if runErr != nil {
				if res != nil {
					return fmt.Errorf("run %s: %w", res.RunID, runErr)
				}
				return runErr
			}

			out := *res
			out.Trace = nil
			return printJSON(cmd.OutOrStdout(), out)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&appPath, "config", "c", "", "app YAML file")
	flags.StringArrayVarP(&inputs, "input", "i", nil, "input value as key=value (repeatable)")
	flags.StringVar(&inputsFile, "inputs-file", "", "JSON object file with input values")
	flags.StringVar(&traceOut, "trace-out", "", "write the execution trace as JSON to this file")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

// =============================================================================
// ✅ validate 命令
// =============================================================================

func newValidateCmd(c *cli) *cobra.Command {
	var appPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Build an app's node graph without running it and print its description",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := c.runLogger()
			defer logger.Sync()

			env, err := c.newRunEnv(cmd.Context(), logger, nil)
			if err != nil {
				return err
			}
			defer env.Close(logger)

			a, err := env.factory.CreateFromFile(cmd.Context(), appPath)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), a.ToDict())
		},
	}
	cmd.Flags().StringVarP(&appPath, "config", "c", "", "app YAML file")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

// =============================================================================
// 🔧 输入解析
// =============================================================================

// collectInputs 合并 --inputs-file 与 --input，后者优先；值按声明类型转换
func collectInputs(a *app.App, file string, pairs []string) (map[string]any, error) {
	values := make(map[string]any)
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read inputs file: %w", err)
		}
		if err := json.Unmarshal(data, &values); err != nil {
			return nil, fmt.Errorf("inputs file %s must hold a JSON object: %w", file, err)
		}
		// null 会把 map 置为 nil
		if values == nil {
			return nil, fmt.Errorf("inputs file %s must hold a JSON object, got null", file)
		}
	}

	declared := make(map[string]string)
	for _, spec := range a.InputSpecs() {
		declared[spec.Name] = spec.Type
	}
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --input %q, expected key=value", pair)
		}
		v, err := coerceInput(declared[key], raw)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", key, err)
		}
		values[key] = v
	}
	return values, nil
}

func coerceInput(typ, raw string) (any, error) {
	switch strings.ToLower(typ) {
	case "int", "integer":
		return strconv.Atoi(strings.TrimSpace(raw))
	case "float", "number":
		return strconv.ParseFloat(strings.TrimSpace(raw), 64)
	case "bool", "boolean":
		return strconv.ParseBool(strings.TrimSpace(raw))
	default:
		return raw, nil
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
