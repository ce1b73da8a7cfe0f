package notify

import (
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/captionflow/pkg/types"
)

// documentIDField is added to every serialized document so clients can
// recognise redelivered changes.
const documentIDField = "id"

// SerializeDocument renders one store document as a JSON string.
func SerializeDocument(doc types.Document) (string, error) {
	fields := make(map[string]interface{}, len(doc.Fields)+1)
	for k, v := range doc.Fields {
		fields[k] = v
	}
	if _, ok := fields[documentIDField]; !ok && doc.ID != "" {
		fields[documentIDField] = doc.ID
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("failed to serialize document %q: %w", doc.ID, err)
	}
	return string(data), nil
}

// BuildBroadcast turns a change batch into the single envelope sent to clients.
// An empty batch yields (nil, nil). Documents are serialized independently and
// kept in batch order; any failure aborts the whole batch.
func BuildBroadcast(batch types.ChangeBatch) (*types.BroadcastMessage, error) {
	if batch.Len() == 0 {
		return nil, nil
	}
	args := make([]string, 0, batch.Len())
	for _, doc := range batch.Documents {
		s, err := SerializeDocument(doc)
		if err != nil {
			return nil, err
		}
		args = append(args, s)
	}
	return &types.BroadcastMessage{
		Target:    types.TargetNewMessage,
		Arguments: args,
	}, nil
}
