// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 lifecycle 定义委托生命周期事件及其同步分发机制。

# 概述

admission、execution 与 runtime 通过 Publisher 发布 Event，
observability 的 Collector 以 Listener 身份订阅。Hub 在调用方
goroutine 中按订阅顺序同步分发，保证同一次执行的事件按因果顺序
（created → accepted → progress* → completed|failed）到达监听者。

# 核心类型

  - Event              — 生命周期事件（类型、合约、链路深度、严重级别、载荷、性能指标）
  - EventType          — 事件类型枚举
  - Severity           — 有序严重级别 debug<info<warning<error<critical
  - PerformanceMetrics — 可选的性能指标
  - Hub                — 监听者注册表与同步分发器
*/
package lifecycle
