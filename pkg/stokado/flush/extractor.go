package flush

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrInvalidPayload means a message body is not an S3 event notification.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrEmptyKeys means a unit carried no object keys to invalidate.
	ErrEmptyKeys = errors.New("empty keys")
)

// Message is one queue message: its id and the raw notification body.
type Message struct {
	ID   string
	Body string
}

// notification is S3Event with Records required.
type notification struct {
	Records *[]S3EventRecord `json:"Records"`
}

// ExtractKeys returns "/"-prefixed object keys from every record of every
// message, in message order then record order. Duplicates are kept. Keys are
// used as they appear in the notification. A body that does not parse, or
// has no Records list, aborts the whole extraction.
func ExtractKeys(messages []Message) ([]string, error) {
	var keys []string
	for _, msg := range messages {
		var n notification
		if err := json.Unmarshal([]byte(msg.Body), &n); err != nil {
			return nil, fmt.Errorf("%w: message %s: %v", ErrInvalidPayload, msg.ID, err)
		}
		if n.Records == nil {
			return nil, fmt.Errorf("%w: message %s has no Records", ErrInvalidPayload, msg.ID)
		}
		for _, record := range *n.Records {
			keys = append(keys, "/"+record.S3.Object.Key)
		}
	}
	return keys, nil
}
