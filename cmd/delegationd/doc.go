// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供委托服务 delegationd 的程序入口。

# 概述

cmd/delegationd 将能力注册表、准入引擎、执行引擎与遥测关联引擎
组装为 HTTP 服务，并提供离线分析遥测事件文件的子命令。配置按
默认值、YAML 文件、DELEGATION_ 前缀环境变量的顺序加载。

# 子命令

  - serve    启动 API 与 Metrics 双端口服务，可通过 -c 指定配置文件
  - analyze  读取文件 Sink 导出的 JSONL 事件，输出链摘要与异常
  - version  打印构建信息
  - health   请求运行中服务的 /health

# 中间件链

按外层到内层依次为 Recovery、RequestID、SecurityHeaders、OTelTracing、
MetricsMiddleware、RequestLogger、MaxBody、Auth、RateLimiter。
Auth 接受 X-API-Key 或 HS256 JWT，RateLimiter 按租户或客户端 IP 限流。

# 遥测 Sink

serve 按配置启用 log、file、redis、database、kafka、nats 六类 Sink，
任一 Sink 创建失败则关闭已创建的 Sink 并退出。

# 构建注入

Version、BuildTime、GitCommit 通过 ldflags 设置。
*/
package main
