package banner

import (
	"fmt"
)

const banner = `
 ██████╗██╗  ██╗ █████╗ ████████╗ ██████╗ ██████╗ ██████╗ ███████╗
██╔════╝██║  ██║██╔══██╗╚══██╔══╝██╔════╝██╔═══██╗██╔══██╗██╔════╝
██║     ███████║███████║   ██║   ██║     ██║   ██║██████╔╝█████╗
██║     ██╔══██║██╔══██║   ██║   ██║     ██║   ██║██╔══██╗██╔══╝
╚██████╗██║  ██║██║  ██║   ██║   ╚██████╗╚██████╔╝██║  ██║███████╗
 ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝    ╚═════╝ ╚═════╝ ╚═╝  ╚═╝╚══════╝
`

// Print writes the startup banner and the effective runtime settings.
func Print(addr, dbPath, userID, sources, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	fmt.Printf("DB Path:  %s\n", dbPath)
	fmt.Printf("User:     %s\n", userID)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	if sources != "" {
		fmt.Printf("Config sources: %s\n", sources)
	}
	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("GET    /v1/chats - Visible chat list (local tombstones applied)")
	fmt.Println("POST   /v1/chats/{id}/hide - Hide a chat on this device")
	fmt.Println("POST   /v1/chats/{id}/unhide - Restore a hidden chat")
	fmt.Println("GET    /v1/chats/{id}/messages/{mid}/actions?actor=<id> - Available actions")
	fmt.Println("POST   /v1/chats/{id}/messages/{mid}/unsend - Hard-delete own message")
	fmt.Println("POST   /v1/chats/{id}/messages/{mid}/delete - Delete for everyone")
	fmt.Println("POST   /v1/chats/{id}/messages/{mid}/edit - Edit own message")
	fmt.Println("POST   /v1/chats/{id}/messages/delete-for-me - Hide messages locally")
	fmt.Println("POST   /v1/counters/{key}/reset - Clear an unread counter")
	fmt.Println("GET    /v1/signals - Long-poll refresh/notify signals")
	fmt.Println("GET    /healthz | /metrics")
}
