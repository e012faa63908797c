// Package biz 提供库存 RAG 服务的业务逻辑层。
//
// 该包将业务逻辑拆分为以下组件：
//   - ComposeContent: 将库存记录组合为可嵌入的文本
//   - EmbeddingClient: 生成向量并校验维度与数值
//   - IngestionPipeline: 拉取、组合、嵌入并写入租户索引
//   - QueryPipeline: 检索相关记录、构建提示词并生成回答
//   - TenantRegistry: 管理租户流水线的创建、复用与重建
//   - InventoryService: 组合以上组件，对外提供四个操作
package biz
