package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ironvein/client"
	"ironvein/devserver"
)

// IronVein 终端客户端入口：连接权威服务端，读 stdin 发意图，
// 把世界与聊天事件打到终端；可选内置 dev 服务端与调试端点
func main() {
	var (
		addr     string
		username string
		room     string
		lobby    bool
		dev      bool
		devAddr  string
		debug    string
		logFile  string
		hbEvery  time.Duration
	)
	flag.StringVar(&addr, "addr", "ws://localhost:8080/ws", "server websocket endpoint")
	flag.StringVar(&username, "user", "", "player username (required)")
	flag.StringVar(&room, "room", "room-1", "room to join")
	flag.BoolVar(&lobby, "lobby", false, "lobby mode: join only on /join, not on connect")
	flag.BoolVar(&dev, "dev", false, "run a built-in dev server before connecting")
	flag.StringVar(&devAddr, "devaddr", ":8080", "dev server listen address")
	flag.StringVar(&debug, "debug", "", "debug http address for /metrics and /healthz (empty = off)")
	flag.StringVar(&logFile, "log", "client.log", "log file path")
	flag.DurationVar(&hbEvery, "hb", client.DefaultHeartbeatInterval, "heartbeat probe interval")
	flag.Parse()

	if username == "" {
		fmt.Fprintln(os.Stderr, "missing -user")
		os.Exit(2)
	}

	if err := client.InitLogger(logFile); err != nil {
		panic(err)
	}
	defer client.SyncLogger()

	if dev {
		mux := http.NewServeMux()
		mux.HandleFunc("/ws", devserver.HandleWS)
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("ok"))
		})
		go func() {
			client.Log.Infof("dev server listening on %s", devAddr)
			if err := http.ListenAndServe(devAddr, mux); err != nil {
				client.Log.Fatalf("dev server listen: %v", err)
			}
		}()
		// 给内置服务端一点起身时间
		time.Sleep(200 * time.Millisecond)
	}

	sess := client.NewSession(client.Config{
		URL:               addr,
		Username:          username,
		Room:              room,
		LobbyMode:         lobby,
		HeartbeatInterval: hbEvery,
	}, consoleRenderer{}, consolePanel{}, client.Events{
		ConnectionState: func(s client.ConnState, cause error) {
			if cause != nil {
				fmt.Printf("* connection %s: %v (reconnect manually)\n", s, cause)
			} else {
				fmt.Printf("* connection %s\n", s)
			}
		},
		Latency: func(rtt time.Duration) {
			fmt.Printf("* latency %v\n", rtt)
		},
		ServerError: func(text string) {
			fmt.Printf("! server error: %s\n", text)
		},
	})

	if err := sess.Connect(); err != nil {
		fmt.Fprintf(os.Stderr, "connect failed: %v\n", err)
		os.Exit(1)
	}
	defer sess.Disconnect()

	// 调试端点：暴露会话指标与世界快照
	if debug != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
			payload := map[string]any{
				"state":   sess.State().String(),
				"pending": sess.PendingCount(),
				"players": sess.WorldSnapshot(),
				"metrics": sess.Metrics().Snapshot(),
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(payload)
		})
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("ok"))
		})
		go func() {
			client.Log.Infof("debug endpoints on %s", debug)
			_ = http.ListenAndServe(debug, mux)
		}()
	}

	fmt.Println("commands: /join | /move x y | /quit | anything else is chat")
	go readCommands(sess)

	// 优雅退出（Ctrl+C）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	fmt.Println("\nbye")
}

// readCommands stdin 命令循环：/move、/join、/quit，其余按聊天发送
func readCommands(sess *client.Session) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		switch {
		case line == "/quit":
			sess.Disconnect()
			os.Exit(0)
		case line == "/join":
			if err := sess.JoinBattle(); err != nil {
				fmt.Printf("! join: %v\n", err)
			}
		case strings.HasPrefix(line, "/move"):
			var x, y int
			if _, err := fmt.Sscanf(line, "/move %d %d", &x, &y); err != nil {
				fmt.Println("! usage: /move x y")
				continue
			}
			if err := sess.Move(x, y); err != nil {
				fmt.Printf("! move: %v\n", err)
			}
		default:
			if err := sess.SendChat(line); err != nil {
				fmt.Printf("! chat: %v\n", err)
			}
		}
	}
}

// consoleRenderer 把世界快照压成一行坐标表打印
type consoleRenderer struct{}

func (consoleRenderer) DrawFrame(players []client.Player) {
	parts := make([]string, 0, len(players))
	for _, p := range players {
		parts = append(parts, fmt.Sprintf("%s@(%d,%d) hp=%d res=%d",
			p.Username, p.X, p.Y, p.Health, p.Resources))
	}
	fmt.Printf("world: %s\n", strings.Join(parts, "  "))
}

// consolePanel 终端聊天面板：占位行打"(sending)"，权威回射到达后
// 正式行由 AppendLine 输出（终端没法原位替换，占位撤销即不再重复打印）
type consolePanel struct{}

func (consolePanel) AppendLine(line string) {
	fmt.Println(line)
}

func (consolePanel) AddPendingPlaceholder(text string) client.Placeholder {
	fmt.Printf("(sending) %s\n", text)
	return text
}

func (consolePanel) RetirePlaceholder(p client.Placeholder) {
	// 终端占位无法撤回；权威行紧随其后即可
}
