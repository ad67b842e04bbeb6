/*
Package types 提供 config2flow 的全局共享类型定义。

types 是最底层的公共包，不依赖任何内部包。

  - Error / ErrorCode: 结构化错误体系（MISSING_INPUT、TEMPLATE_ERROR、INVALID_OUTPUT 等）
  - WithRunID / WithUserID / WithAppName: Context 传播，LogFields 把它们转成 zap 字段
*/
package types
