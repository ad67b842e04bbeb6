/*
Package workflow 提供配置驱动的工作流调度引擎。

# 概述

工作流由若干节点组成（Agent、子工作流、循环工作流），每个节点声明输入/输出变量
与 priority。DefaultWorkflow 按 priority 升序分层：层内节点通过 errgroup 有界并发，
层与层之间是屏障。LoopWorkflow 反复运行内部工作流，由 watchdog Agent 产出判断
变量，再对 end_condition 求值（受限表达式，失败视为 false），最多 max_loops 轮。

# 核心类型

  - Node: 节点契约，Run(ctx, Variables, *Trace) / ToDict
  - BaseNode: 节点声明信息，供具体节点嵌入
  - Variables: 变量池，每个并发任务拿到独立快照
  - DefaultWorkflow: 分层并发调度
  - LoopWorkflow: RUNNING → JUDGING → DONE 状态机
  - Trace: 显式传入的层级执行日志，ToDict 从不失败
  - Event: 通过 WithEventEmitter 订阅的运行事件

# 语义要点

  - 缺少声明的输入变量时返回 MISSING_INPUT，指出第一个缺失的变量名。
  - 层内任一节点失败时，等待同层其余节点结束后返回最先出现的错误，该层输出全部丢弃；
    不会取消正在运行的兄弟节点。
  - 同层节点写同名输出时，后完成者覆盖，顺序不确定。
  - 声明了 output_vars 时只返回这些变量；未声明时返回子节点写入的全部变量。
*/
package workflow
