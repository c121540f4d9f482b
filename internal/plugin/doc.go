// Package plugin 聚合可热加载的插件运行时，并提供按源码位置缓存编译结果的 Loader。
//
// 运行时作者需要：
//   1. 在 internal/plugin/<runtime-key>/ 目录下实现 CompileFunc 与 Program；
//   2. 在 init() 中调用 MustRegister 注册运行时元数据与其负责的扩展名；
//   3. 保证 Program.Register 只通过 Env.App 登记路由，宿主据此追踪路由归属。
//
// Loader 是显式的模块缓存：Subserver 在每次 start 前调用 Evict，保证重新读取最新源码。
package plugin
