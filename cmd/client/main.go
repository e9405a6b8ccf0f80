// 手動測試客戶端：連上 WebSocket 端點，發送訊息並列印收到的推送.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"dm-gateway/internal/identity"
)

func main() {
	addr := flag.String("addr", "localhost:8080", "伺服器地址")
	secret := flag.String("secret", "dev-secret", "JWT 密鑰（需與伺服器配置一致）")
	user := flag.String("user", "user_alice", "用戶 ID")
	conversation := flag.String("conversation", "", "會話 ID（send/typing 用）")
	flag.Parse()

	resolver := identity.NewJWTResolver(*secret, "")
	token, err := resolver.Issue(*user, time.Hour)
	if err != nil {
		log.Fatalf("簽發 token 失敗: %v", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	url := fmt.Sprintf("ws://%s/ws", *addr)
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		log.Fatalf("連接失敗: %v", err)
	}
	defer conn.Close()

	fmt.Printf("=== WebSocket 測試客戶端 ===\n")
	fmt.Printf("已連接 %s，用戶 %s\n", url, *user)
	fmt.Println("指令: send <內容> | read <seq> | typing | quit")
	fmt.Println()

	// 列印下行推送
	go func() {
		for {
			var event map[string]any
			if err := conn.ReadJSON(&event); err != nil {
				log.Printf("連線關閉: %v", err)
				os.Exit(0)
			}
			fmt.Printf("<< %v\n", event)
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.SplitN(line, " ", 2)
		switch parts[0] {
		case "send":
			if len(parts) < 2 || *conversation == "" {
				fmt.Println("用法: send <內容>（需要 -conversation 參數）")
				continue
			}
			_ = conn.WriteJSON(map[string]any{
				"type":            "send",
				"conversation_id": *conversation,
				"body":            parts[1],
			})

		case "read":
			if len(parts) < 2 || *conversation == "" {
				fmt.Println("用法: read <seq>（需要 -conversation 參數）")
				continue
			}
			var seq int64
			if _, err := fmt.Sscanf(parts[1], "%d", &seq); err != nil {
				fmt.Println("seq 必須是數字")
				continue
			}
			_ = conn.WriteJSON(map[string]any{
				"type":             "ack_read",
				"conversation_id":  *conversation,
				"upto_message_seq": seq,
			})

		case "typing":
			if *conversation == "" {
				fmt.Println("需要 -conversation 參數")
				continue
			}
			_ = conn.WriteJSON(map[string]any{
				"type":            "typing",
				"conversation_id": *conversation,
			})

		case "quit":
			return

		default:
			fmt.Println("未知指令:", parts[0])
		}
	}
}
