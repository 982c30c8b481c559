// Package pubsubdispatch implements tasks.Dispatcher on Google Cloud
// Pub/Sub.
//
// Task status rows are written before publishing, so a task id returned by
// an Enqueue call always resolves through Status even before a worker picks
// the task up.
package pubsubdispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"

	"github.com/lsst-sqre/squash-rest-api/go/skerr"
	"github.com/lsst-sqre/squash-rest-api/go/sklog"
	"github.com/lsst-sqre/squash-rest-api/go/tasks"
)

const (
	// subscriptionSuffix is the name we append to a topic name to build a
	// subscription name.
	subscriptionSuffix = "-prod"

	// numGoroutines is the number of goroutines the worker subscription
	// uses to receive messages.
	numGoroutines = 4
)

// Dispatcher implements the tasks.Dispatcher interface on a Pub/Sub topic.
type Dispatcher struct {
	topic    *pubsub.Topic
	statuses tasks.StatusStore
}

// New returns a new *Dispatcher publishing to topicName. The topic is
// created if it does not exist, which requires the "PubSub Admin" role.
func New(ctx context.Context, client *pubsub.Client, topicName string, statuses tasks.StatusStore) (*Dispatcher, error) {
	topic := client.Topic(topicName)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, skerr.Wrapf(err, "Failed to check existence of topic %q", topicName)
	}
	if !exists {
		if _, err := client.CreateTopic(ctx, topicName); err != nil {
			return nil, skerr.Wrapf(err, "Failed to create topic %q", topicName)
		}
	}
	return &Dispatcher{
		topic:    topic,
		statuses: statuses,
	}, nil
}

// EnqueueUpload implements the tasks.Dispatcher interface.
func (d *Dispatcher) EnqueueUpload(ctx context.Context, payload *tasks.UploadPayload) (string, error) {
	return d.enqueue(ctx, tasks.KindUpload, payload)
}

// EnqueuePublish implements the tasks.Dispatcher interface.
func (d *Dispatcher) EnqueuePublish(ctx context.Context, payload *tasks.PublishPayload) (string, error) {
	return d.enqueue(ctx, tasks.KindPublish, payload)
}

// Status implements the tasks.Dispatcher interface.
func (d *Dispatcher) Status(ctx context.Context, taskID string) (*tasks.Status, error) {
	return d.statuses.Get(ctx, taskID)
}

func (d *Dispatcher) enqueue(ctx context.Context, kind tasks.Kind, payload interface{}) (string, error) {
	taskID := uuid.New().String()

	body, err := json.Marshal(payload)
	if err != nil {
		return "", skerr.Wrap(err)
	}
	envelope, err := json.Marshal(tasks.Envelope{
		TaskID:  taskID,
		Kind:    kind,
		Payload: body,
	})
	if err != nil {
		return "", skerr.Wrap(err)
	}

	// The pending row must exist before the message is visible, a worker
	// may pick the task up immediately.
	if err := d.statuses.Create(ctx, taskID, kind); err != nil {
		return "", skerr.Wrap(err)
	}

	res := d.topic.Publish(ctx, &pubsub.Message{Data: envelope})
	if _, err := res.Get(ctx); err != nil {
		if serr := d.statuses.SetState(ctx, taskID, tasks.StateFailure, fmt.Sprintf("publish failed: %s", err)); serr != nil {
			sklog.Errorf("Failed to record publish failure for task %s: %s", taskID, serr)
		}
		return "", skerr.Wrapf(err, "Failed to publish task %s", taskID)
	}
	sklog.Infof("Enqueued %s task %s", kind, taskID)
	return taskID, nil
}

// Confirm Dispatcher implements tasks.Dispatcher.
var _ tasks.Dispatcher = (*Dispatcher)(nil)

// SubName returns the subscription name the worker should use. In
// production every instance uses the same subscription name so that they
// load-balance pulling tasks from the topic; locally every host gets its
// own subscription to avoid conflicting with production workers.
func SubName(local bool, topicName string) (string, error) {
	if !local {
		return topicName + subscriptionSuffix, nil
	}
	hostname, err := os.Hostname()
	if err != nil {
		return "", skerr.Wrapf(err, "Failed to get hostname.")
	}
	return fmt.Sprintf("%s-%s", topicName, hostname), nil
}

// Worker pulls tasks from a subscription and executes them.
type Worker struct {
	sub      *pubsub.Subscription
	statuses tasks.StatusStore
	executor *tasks.Executor
}

// NewWorker returns a new *Worker pulling from the subscription derived
// from topicName. The subscription is created if it does not exist.
func NewWorker(ctx context.Context, client *pubsub.Client, local bool, topicName string, statuses tasks.StatusStore, executor *tasks.Executor) (*Worker, error) {
	subName, err := SubName(local, topicName)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	sub := client.Subscription(subName)
	ok, err := sub.Exists(ctx)
	if err != nil {
		return nil, skerr.Wrapf(err, "Failed checking subscription existence: %q", subName)
	}
	if !ok {
		sub, err = client.CreateSubscription(ctx, subName, pubsub.SubscriptionConfig{
			Topic: client.Topic(topicName),
		})
		if err != nil {
			return nil, skerr.Wrapf(err, "Failed creating subscription %q", subName)
		}
	}
	sub.ReceiveSettings.NumGoroutines = numGoroutines
	return &Worker{
		sub:      sub,
		statuses: statuses,
		executor: executor,
	}, nil
}

// Receive pulls and executes tasks until ctx is cancelled. Messages are
// acked once a terminal state is recorded; a message that cannot even be
// decoded is acked and dropped since redelivery cannot fix it.
func (w *Worker) Receive(ctx context.Context) error {
	return w.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		var envelope tasks.Envelope
		if err := json.Unmarshal(msg.Data, &envelope); err != nil {
			sklog.Errorf("Dropping undecodable task message: %s", err)
			msg.Ack()
			return
		}
		w.process(ctx, &envelope)
		msg.Ack()
	})
}

// process executes one task and records its terminal state.
func (w *Worker) process(ctx context.Context, envelope *tasks.Envelope) {
	if err := w.statuses.SetState(ctx, envelope.TaskID, tasks.StateStarted, ""); err != nil {
		sklog.Warningf("Failed to mark task %s started: %s", envelope.TaskID, err)
	}
	if err := w.executor.Execute(ctx, envelope); err != nil {
		sklog.Errorf("Task %s failed: %s", envelope.TaskID, err)
		if serr := w.statuses.SetState(ctx, envelope.TaskID, tasks.StateFailure, err.Error()); serr != nil {
			sklog.Errorf("Failed to record failure for task %s: %s", envelope.TaskID, serr)
		}
		return
	}
	if err := w.statuses.SetState(ctx, envelope.TaskID, tasks.StateSuccess, ""); err != nil {
		sklog.Errorf("Failed to record success for task %s: %s", envelope.TaskID, err)
	}
}
