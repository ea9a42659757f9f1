// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供委托运行时的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 discovery、contract、
admission、execution、observability 以及 api 等上层模块提供统一的
类型契约，以避免循环依赖。

# 核心类型

  - Error / ErrorCode      — 结构化错误体系，含 HTTP 状态码、Retryable、尝试次数与字段标记
  - ResourceRequirements   — 类型化资源向量（memory_mb、cpu_cores、network_mbps 等）
  - 请求上下文键           — trace_id、tenant_id、user_id、roles

# 主要能力

  - 错误工具链：AsError / GetErrorCode / IsCode / IsRetryable，均基于 errors.As
  - 常用错误构造：NewError / NewValidationError
  - 资源遍历：ResourceRequirements.Each 按固定顺序遍历非零资源
*/
package types
