// Package event parses the S3-style bucket-notification envelope delivered
// on the upload topic and derives the transient ingestion job from it.
package event

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/meetmind/ingest-worker/pkg/logger"
)

const mutexKeyPrefix = "meeting-lock:"

// Notification is the storage-event envelope: a list of records, each naming
// the bucket and object that triggered the event. Object keys arrive
// URL-encoded.
type Notification struct {
	Records []Record `json:"Records"`
}

type Record struct {
	S3 struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key string `json:"key"`
		} `json:"object"`
	} `json:"s3"`
}

// IngestionJob is the transient per-message unit of work. It is created on
// message receipt and discarded after handling; it is never persisted.
type IngestionJob struct {
	Bucket   string
	Key      string
	MutexKey string
}

// Parse decodes a notification body and returns the job for its first
// record. Additional records are logged and skipped; in practice the
// storage service emits one record per uploaded object.
func Parse(body []byte) (IngestionJob, error) {
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return IngestionJob{}, fmt.Errorf("decoding notification envelope: %w", err)
	}
	if len(n.Records) == 0 {
		return IngestionJob{}, fmt.Errorf("notification envelope has no records")
	}
	if len(n.Records) > 1 {
		logger.WithComponent("event").Warn("multiple records in notification, processing first only",
			"records", len(n.Records))
	}

	rec := n.Records[0]
	if rec.S3.Bucket.Name == "" || rec.S3.Object.Key == "" {
		return IngestionJob{}, fmt.Errorf("notification record missing bucket or object key")
	}
	key, err := url.QueryUnescape(rec.S3.Object.Key)
	if err != nil {
		return IngestionJob{}, fmt.Errorf("decoding object key %q: %w", rec.S3.Object.Key, err)
	}

	return IngestionJob{
		Bucket:   rec.S3.Bucket.Name,
		Key:      key,
		MutexKey: mutexKeyPrefix + key,
	}, nil
}
