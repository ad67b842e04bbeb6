// Package config 提供 config2flow 的配置管理功能。
//
// 包含两类配置：运行时配置（Loader：默认值 → YAML → .env → 环境变量），
// 以及应用配置（app → workflow → nodes，YAML 解析后由 mapstructure 解码）。
package config
