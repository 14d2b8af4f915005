package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"kartsync/server"
)

// KartSync 入口：启动 HTTP + WebSocket 服务，并初始化房间目录
func main() {
	var addr string
	var envFile string
	flag.StringVar(&addr, "addr", ":8080", "server listen address, e.g. :8080")
	flag.StringVar(&envFile, "env", "", "optional .env file with tuning overrides")
	flag.Parse()
	// 使用第三方 zap 日志库写入 app.log（带滚动）
	if err := server.InitLogger("app.log"); err != nil {
		panic(err)
	}
	defer server.SyncLogger()

	cfg := server.LoadConfig(envFile)
	dir := server.NewDirectory(cfg)
	// 大厅房间常驻：启动即建，之后任何查找失败都会自愈重建
	dir.EnsureMasterRoom()
	dir.StartLoops()
	defer dir.Shutdown()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", dir.HandleWS)
	// 前后端分离：将 / 映射到 web 目录的静态资源
	mux.Handle("/", http.FileServer(http.Dir("web")))
	// 管理与监控接口
	mux.HandleFunc("/admin/config", dir.HandleAdminConfig)
	mux.HandleFunc("/metrics", dir.HandleMetrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		server.Log.Infof("KartSync listening on %s; open http://localhost%v/", addr, addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			server.Log.Fatalf("listen: %v", err)
		}
	}()

	// 优雅退出（Ctrl+C）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	server.Log.Info("Shutting down...")
}
