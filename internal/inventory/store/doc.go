// Package store 提供租户库存向量索引的访问层。
//
// 每个租户拥有独立的集合，集合名由前缀与租户 ID 组成。
// 生产实现基于 Milvus，测试使用内存实现，两者共享字段校验逻辑。
package store
