/*
# 概述

包 sandbox 执行 LLM 回复中生成的代码片段，并把结果回写给 Agent。

# 核心类型

  - Executor: 按语言选择后端，统一处理超时、输出截断与执行统计
  - Backend: 执行后端接口
  - ProcessBackend: 本机 Python 解释器（python3 -c）
  - DockerBackend: 一次性 Docker 容器运行 Python，禁用网络、只读根文件系统
  - LuaBackend: 进程内 gopher-lua 虚拟机，仅开放 base/table/string/math

# 代码提取

ExtractCode 识别 ```python / ```py / ```lua 围栏代码块，返回第一个匹配。
*/
package sandbox
