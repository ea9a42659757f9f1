// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供 HTTP 服务器生命周期管理，支持非阻塞启动、
基于 context 的运行与优雅关闭。

# 概述

本包通过 Manager 封装 net/http.Server，统一管理监听、服务、
关闭与错误传播流程。delegationd 用两个 Manager 分别承载
委托 API 与 Prometheus 指标端点。

# 核心类型

  - Manager：HTTP 服务器管理器，提供 Start/Run/Shutdown/Errors，
    并以 Check 作为健康检查项报告自身运行状态。
  - Config：服务名、监听地址、读写超时、空闲超时、最大请求头与关闭超时。
    APIConfig 与 MetricsConfig 由 config.ServerConfig 构建两个端口的配置。

# 主要能力

  - 非阻塞启动：Start 在后台 goroutine 中运行服务。
  - 阻塞运行：Run 在 ctx 取消或服务异常时自动优雅关闭。
  - 错误传播：Errors() 返回异步错误通道。
  - 连接统计：ActiveConnections 返回打开的连接数，关闭时记录待排空连接。
*/
package server
