// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package config 提供委托运行时的配置管理功能。

# 概述

配置按 默认值 → YAML 文件 → 环境变量 的顺序叠加，
环境变量由 envconfig 解析，默认前缀为 DELEGATION。

# 核心组件

  - Loader: Builder 模式的配置加载器，支持自定义验证器
  - Config: 服务、认证、注册表、准入、执行、事件、Sink、数据库、日志与遥测配置
  - Reloader: 轮询配置文件并在校验通过后通知回调

# 使用示例

	cfg, err := config.NewLoader().
		WithConfigPath("delegation.yaml").
		WithValidator(func(c *config.Config) error { return c.Validate() }).
		Load()
*/
package config
