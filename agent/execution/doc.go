// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 execution 在超时与重试纪律下执行已接受的委托合约。

# 概述

Engine.Execute 接收一份处于 accepted 状态的合约与一个不透明的
TaskFunc，将合约推进到 active，然后在合约的 timeout_ms 内与任务
赛跑。超时视为可重试失败；任务错误仅在命中合约 retry_conditions
（未配置策略时为 timeout 与 network_error）时重试。重试耗尽后返回
最后一次错误。

# 核心类型

  - Engine：执行引擎，维护进行中的执行、执行统计与验证器。
  - ExecutionContext：一次执行的状态快照，状态机为
    pending → running → completed | failed | timeout。
  - ExecutionResult：执行结果，包含输出、结构化错误、资源指标与
    可选的验证结果。
  - TaskContext：传给任务的句柄，实现 ProgressReporter，用于上报
    阶段进度与网络字节数。
  - Verifier：按验证策略选择的结果验证器，内置
    DirectInspectionVerifier。

# 进度与检查点

进度以 (phase, percentage) 上报，按固定表映射到命名检查点，仅
阈值不超过当前百分比的检查点视为已完成。StepTask 将有序步骤包装
为 TaskFunc，并在步骤之间暂停。

# 关闭

Shutdown 立即将所有进行中的执行标记为 failed 并取消，不再重试，
并发布 execution_interrupted 事件；该事件不会推进委托链状态。
*/
package execution
