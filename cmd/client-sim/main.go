// Command client-sim is a small publisher/subscriber used to exercise
// a running broker by hand. It speaks the wire protocol through a
// real NATS client SDK rather than hand-rolled framing, the way an
// actual deployment's clients would.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
)

func main() {
	url := flag.String("url", nats.DefaultURL, "broker URL, e.g. nats://localhost:4222")
	subject := flag.String("subject", "demo", "subject to publish or subscribe on")
	mode := flag.String("mode", "pub", "one of: pub, sub")
	interval := flag.Duration("interval", time.Second, "interval between publishes in pub mode")
	message := flag.String("message", "hello", "payload to publish in pub mode")

	flag.Parse()

	nc, err := nats.Connect(*url)
	if err != nil {
		log.Fatalf("connect to %s: %v", *url, err)
	}
	defer nc.Close()

	switch *mode {
	case "sub":
		runSubscriber(nc, *subject)
	case "pub":
		runPublisher(nc, *subject, *message, *interval)
	default:
		log.Fatalf("unknown mode %q, expected pub or sub", *mode)
	}
}

func runSubscriber(nc *nats.Conn, subject string) {
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		fmt.Printf("[%s] %s\n", msg.Subject, string(msg.Data))
	})
	if err != nil {
		log.Fatalf("subscribe to %s: %v", subject, err)
	}
	defer sub.Unsubscribe()

	log.Printf("listening on subject %q", subject)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
}

func runPublisher(nc *nats.Conn, subject, message string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("publishing to subject %q every %s", subject, interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := nc.Publish(subject, []byte(message)); err != nil {
				log.Printf("publish error: %v", err)
				continue
			}
			log.Printf("published %q on %s", message, subject)
		}
	}
}
