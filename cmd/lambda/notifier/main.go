package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/example/watch-shop/internal/email"
	"github.com/example/watch-shop/internal/infrastructure/kinesis"
	"github.com/example/watch-shop/internal/notification"
)

var notificationHandler *notification.Handler

func init() {
	smtpHost := getEnv("SMTP_HOST", "localhost")
	smtpPort := getEnv("SMTP_PORT", "1025")
	smtpFrom := getEnv("SMTP_FROM", "noreply@bandongho.vn")

	emailSvc := email.NewService(smtpHost, smtpPort, smtpFrom, os.Getenv("SMTP_USERNAME"), os.Getenv("SMTP_PASSWORD"))
	notificationHandler = notification.NewHandler(emailSvc)

	log.Printf("[Lambda Notifier] Initialized successfully (SMTP: %s:%s)", smtpHost, smtpPort)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func handler(ctx context.Context, kinesisEvent events.KinesisEvent) (events.KinesisEventResponse, error) {
	log.Printf("[Lambda Notifier] Received %d records", len(kinesisEvent.Records))
	return kinesis.Dispatch(ctx, kinesisEvent, notificationHandler.HandleEvent), nil
}

func main() {
	lambda.Start(handler)
}
