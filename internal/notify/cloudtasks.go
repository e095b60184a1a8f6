package notify

import (
	"context"
	"fmt"
	"log"
	"time"

	cloudtasks "cloud.google.com/go/cloudtasks/apiv2"
	taskspb "cloud.google.com/go/cloudtasks/apiv2/cloudtaskspb"
)

// CloudTasksSink delivers activation events as HTTP webhooks through a Cloud
// Tasks queue. The queue supplies retry with backoff, rate limiting and a
// dead-letter destination for permanently failing targets.
type CloudTasksSink struct {
	client    *cloudtasks.Client
	queuePath string
	targetURL string
	logger    *log.Logger
}

// NewCloudTasksSink connects to the queue that feeds the webhook target.
func NewCloudTasksSink(ctx context.Context, projectID, locationID, queueID, targetURL string) (*CloudTasksSink, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := cloudtasks.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("cloudtasks.NewClient: %w", err)
	}
	sink := &CloudTasksSink{
		client:    client,
		queuePath: fmt.Sprintf("projects/%s/locations/%s/queues/%s", projectID, locationID, queueID),
		targetURL: targetURL,
		logger:    log.New(log.Writer(), "[CLOUD-TASKS] ", log.LstdFlags),
	}
	sink.logger.Printf("connected to queue %s", sink.queuePath)
	return sink, nil
}

func (s *CloudTasksSink) Name() string { return "cloudtasks" }

func (s *CloudTasksSink) CanSend() bool { return s.targetURL != "" }

func (s *CloudTasksSink) Send(ctx context.Context, event *Event) error {
	payload, err := event.JSON()
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.ID, err)
	}
	_, err = s.client.CreateTask(ctx, &taskspb.CreateTaskRequest{
		Parent: s.queuePath,
		Task: &taskspb.Task{
			MessageType: &taskspb.Task_HttpRequest{
				HttpRequest: &taskspb.HttpRequest{
					Url:        s.targetURL,
					HttpMethod: taskspb.HttpMethod_POST,
					Headers: map[string]string{
						"Content-Type":   "application/json",
						"X-Elevate-Type": string(event.Type),
					},
					Body: payload,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("enqueue event %s: %w", event.ID, err)
	}
	return nil
}

// Close shuts down the client.
func (s *CloudTasksSink) Close() error { return s.client.Close() }
