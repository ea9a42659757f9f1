// Package telemetry 封装 OpenTelemetry SDK 初始化逻辑，
// 为委托运行时提供集中式的 TracerProvider 和 MeterProvider 配置。
// 准入与执行引擎通过全局 Provider 创建 span；禁用时保持 noop。
package telemetry
