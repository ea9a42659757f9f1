// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供委托服务 HTTP API 的请求处理器实现。

# 概述

handlers 包实现 delegationd 所有 HTTP 端点的请求处理逻辑，
包括能力清单管理、能力查询、合约准入评估、遥测查询、健康检查，
以及统一的响应/错误处理。所有 Handler 均遵循标准 net/http 接口，
通过 Register 把路由挂载到 http.ServeMux（Go 1.22 方法与路径参数模式）。

# 核心类型

  - ManifestHandler  — 清单注册/查询/更新/注销与能力查询
  - ContractHandler  — 合约解码、默认值填充与准入评估
  - TelemetryHandler — 事件历史、委托链、链分析、异常检测与 Agent 性能
  - HealthHandler    — 服务健康检查（/health, /healthz, /ready）
  - Response         — 统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo        — 结构化错误信息，含 code、message、field、retryable
  - ResponseWriter   — 包装 http.ResponseWriter 以捕获状态码
  - HealthCheck      — 可插拔健康检查接口，FuncCheck 为函数适配；
    NewTelemetryBufferCheck 与 NewRegistryCheck 检查遥测缓冲与能力注册表

# 主要能力

  - 统一响应格式：WriteSuccess / WriteCreated / WriteError / WriteJSON
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）、ValidateContentType
  - ErrorCode → HTTP 状态码自动映射（4xx/5xx）
  - 合约被拒绝属于正常结果：返回 200 与 can_accept=false
  - 查询参数解析：ParseEventFilter 支持逗号分隔的类型与级别
*/
package handlers
