// Package yamux 实现 yamux 流多路复用协议
//
// 在单个可靠有序的字节流（通常是 TCP）之上提供多条独立的
// 双向逻辑流，每条流具备独立的信用流控。
//
// # 快速开始
//
//	// 监听方
//	session, _ := yamux.Server(conn, nil)
//	stream, _ := session.AcceptStream()
//	defer stream.Close()
//
//	// 发起方
//	session, _ := yamux.Client(conn, nil)
//	stream, _ := session.OpenStream(ctx)
//	defer stream.Close()
//
//	// 读写数据
//	stream.Write([]byte("hello"))
//	buf := make([]byte, 1024)
//	n, _ := stream.Read(buf)
//
// # 帧格式
//
// 12 字节头部（大端序）加可选负载：
//
//	[version:1][type:1][flags:2][streamID:4][length:4]
//
// 类型：0 Data，1 WindowUpdate，2 Ping，3 GoAway。
// 标志位：0x1 SYN，0x2 ACK，0x4 FIN，0x8 RST。
//
// # 流 ID 极性
//
// 发起方使用奇数 ID（从 1 起），监听方使用偶数 ID（从 2 起），
// ID 0 保留给会话层。极性不匹配的入站流是协议违规。
//
// # 流量控制
//
// 每条流初始窗口 256KiB。发送方消耗对端授予的信用，
// 接收方消费过半窗口后通过 WindowUpdate 回填。
// 窗口增量溢出 uint32 是协议违规，会话就此失败。
//
// # 并发模型
//
// 每个会话由唯一的执行体 goroutine 串行处理全部状态变更，
// 接收和发送循环只搬运字节。应用侧句柄（Stream）通过命令
// 通道提交操作，因此流状态机上没有锁。
//
// 多条流可以并发读写；单条流内写入保序，同时至多一个写者。
//
// # 会话终止
//
// GoAway 帧宣告终止：0 正常，1 协议错误，2 内部错误。
// 对端的协议违规触发 GoAway(1) 并关闭传输；
// 底层传输断开时所有流以 ErrSessionShutdown 终止。
//
// # Fx 模块
//
//	app := fx.New(
//	    yamux.Module,
//	    fx.Invoke(func(factory muxer.MuxerFactory) {
//	        id := factory.Protocol() // "/yamux/1.0.0"
//	    }),
//	)
package yamux
