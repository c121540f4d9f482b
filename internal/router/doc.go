// Package router 实现宿主持有的路由表：按 HTTP 方法维护有序路由列表，
// 支持追加、插入到队首、按身份删除以及首个匹配分发。
//
// 路由表以 Fiber 中间件的形式挂载，插件在运行期增删路由时无需重建 Fiber 路由树。
// Route 指针即路由身份，ID 仅作为诊断输出的替代键。
package router
