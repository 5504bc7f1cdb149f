package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"genai-studio/common"
	"genai-studio/internal/genai/gemini"
	"genai-studio/internal/intake"
	"genai-studio/internal/studio"
	"genai-studio/internal/tools"
	"genai-studio/internal/web"

	"github.com/mark3labs/mcp-go/server"
)

func main() {
	// 加载配置
	config, err := common.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 打印配置信息（隐藏敏感信息）
	fmt.Fprintf(os.Stderr, "Server starting...\n")
	fmt.Fprintf(os.Stderr, "Mode: %s\n", config.ServerMode)
	fmt.Fprintf(os.Stderr, "GenAI Base URL: %s\n", config.GenAIBaseURL)
	fmt.Fprintf(os.Stderr, "GenAI Model: %s\n", config.GenAIModelName)
	fmt.Fprintf(os.Stderr, "API Key: %s\n", common.MaskAPIKey(config.GenAIAPIKey))

	// 缺少 API Key 不阻止启动，生成时再报错
	geminiClient := gemini.NewGeminiClientFromConfig(config)

	switch config.ServerMode {
	case common.ServerModeMCP:
		runMCP(geminiClient)
	default:
		runWeb(config, geminiClient)
	}
}

func runWeb(config *common.Config, geminiClient *gemini.GeminiClient) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	previews := intake.NewPreviewStore()
	idle := time.Duration(config.SessionIdleMinutes) * time.Minute
	sessions := studio.NewSessions(geminiClient, previews, idle)
	go sessions.Run(ctx, time.Minute)

	srv := web.NewServer(config, sessions, previews)
	if err := srv.ListenAndServe(ctx, config.GetServerAddr()); err != nil {
		common.Fatalf("Web server error: %v", err)
	}
}

func runMCP(geminiClient *gemini.GeminiClient) {
	// 创建 MCP 服务器
	s := server.NewMCPServer(
		"GenAI Studio MCP Server",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	// 注册 Gemini tools
	if err := tools.RegisterGeminiTools(s, geminiClient); err != nil {
		common.Fatalf("Failed to register Gemini tools: %v", err)
	}

	// 启动 stdio 服务器
	if err := server.ServeStdio(s); err != nil {
		common.Fatalf("Server error: %v", err)
	}
}
