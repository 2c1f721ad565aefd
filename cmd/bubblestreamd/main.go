// Command bubblestreamd runs a demo bubble-streaming server: a greet-and-echo
// handler set wired into the full stack (store, controller, HTTP adapter),
// configured from an optional YAML file.
//
// Usage:
//
//	go run ./cmd/bubblestreamd [config.yaml]
//
// The server listens on the configured address (default :8080) and serves
// the four streaming endpoints plus /metrics.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Chomosuke9/Bubblekit/activectx"
	"github.com/Chomosuke9/Bubblekit/bubble"
	"github.com/Chomosuke9/Bubblekit/config"
	"github.com/Chomosuke9/Bubblekit/controller"
	"github.com/Chomosuke9/Bubblekit/handlers"
	"github.com/Chomosuke9/Bubblekit/httpapi"
	"github.com/Chomosuke9/Bubblekit/logging"
	"github.com/Chomosuke9/Bubblekit/store"
)

func main() {
	cfg := config.Default()
	if len(os.Args) > 1 {
		loaded, err := config.Load(os.Args[1])
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		cfg = loaded
	}
	logging.Configure(cfg.Logging)

	reg := handlers.New()
	reg.OnNewChatPositional(func(ctx context.Context, conversationID, userID string) error {
		tmpl, err := bubble.NewTemplate(bubble.TemplateParams{
			Role:    "assistant",
			Content: "Hi, what can I help you with?",
		})
		if err != nil {
			return err
		}
		_, err = activectx.Send(ctx, tmpl)
		return err
	})
	reg.OnMessage(func(ctx context.Context, mc handlers.MessageContext) error {
		tmpl, err := bubble.NewTemplate(bubble.TemplateParams{
			Role:    "assistant",
			Content: "echo: " + mc.Message,
		})
		if err != nil {
			return err
		}
		_, err = activectx.Send(ctx, tmpl)
		return err
	})

	st := store.New()
	ctrl := controller.New(reg, st,
		controller.WithTimeouts(cfg.Timeouts),
		controller.WithSinkBufferSize(cfg.SinkBufferSize),
	)

	index := buildConversationIndex(cfg.Redis)
	srv := httpapi.New(ctrl, index, httpapi.WithPort(listenPort(cfg.ListenAddr)))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nshutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("shutdown: %v", err)
		}
		os.Exit(0)
	}()

	fmt.Printf("bubblestreamd listening on %s\n", cfg.ListenAddr)
	if err := srv.ListenAndServe(); err != nil {
		log.Fatal(err)
	}
}

// buildConversationIndex picks the in-memory index when cfg carries no
// Redis address, or a Redis-backed one (shared across replicas, surviving
// a restart) when it does.
func buildConversationIndex(cfg config.Redis) store.Index {
	if cfg.Addr == "" {
		return store.NewConversationIndex()
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	var opts []store.RedisIndexOption
	if cfg.Prefix != "" {
		opts = append(opts, store.WithIndexPrefix(cfg.Prefix))
	}
	if cfg.TTL > 0 {
		opts = append(opts, store.WithIndexTTL(cfg.TTL))
	}
	return store.NewRedisConversationIndex(client, opts...)
}

// listenPort extracts the numeric port from a ":NNNN" listen address for
// httpapi.WithPort, which (like the teacher's a2a server) takes a bare port.
func listenPort(addr string) int {
	var port int
	if _, err := fmt.Sscanf(addr, ":%d", &port); err != nil {
		return 8080
	}
	return port
}
