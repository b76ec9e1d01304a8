package flush

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
)

// Unit is the work handed to the processor in one call: one or more queue
// messages that are flushed together.
type Unit struct {
	ID       string
	Messages []Message
}

// UnitID derives a stable id from the ids of the messages in a unit. A
// single id is returned as is; several ids are sorted and hashed so the same
// set yields the same id whatever the delivery order.
func UnitID(messageIDs ...string) string {
	switch len(messageIDs) {
	case 0:
		return ""
	case 1:
		return messageIDs[0]
	}
	sorted := append([]string(nil), messageIDs...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "\n")))
	return hex.EncodeToString(sum[:])
}

// Processor turns a unit of storage notifications into one invalidation.
type Processor struct {
	flusher *Flusher
	logger  *slog.Logger
}

func NewProcessor(flusher *Flusher, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{flusher: flusher, logger: logger}
}

// Process extracts keys from unit and flushes them. It returns an error
// wrapping ErrInvalidPayload or ErrEmptyKeys when there is nothing valid to
// flush, so the caller can leave the messages for dead-lettering.
func (p *Processor) Process(ctx context.Context, unit Unit) (*cloudfront.CreateInvalidationOutput, error) {
	keys, err := ExtractKeys(unit.Messages)
	if err != nil {
		p.logger.ErrorContext(ctx, "Cannot extract keys from the message", "unit", unit.ID, "err", err)
		return nil, err
	}
	if len(keys) == 0 {
		p.logger.WarnContext(ctx, "Empty keys set", "unit", unit.ID, "messages", len(unit.Messages))
		return nil, ErrEmptyKeys
	}

	token := unit.ID
	if token == "" {
		ids := make([]string, len(unit.Messages))
		for i, m := range unit.Messages {
			ids[i] = m.ID
		}
		token = UnitID(ids...)
	}
	return p.flusher.Flush(ctx, keys, token)
}
