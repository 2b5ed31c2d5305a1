// ABOUTME: Tests for change-stream batch draining and document decoding
// ABOUTME: Uses a scripted cursor so no live replica set is needed

package feed

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/wireline/chatrelay/internal/store"
)

// fakeCursor replays pre-marshaled change documents.
type fakeCursor struct {
	docs   [][]byte
	idx    int
	err    error
	closed bool
}

func (f *fakeCursor) advance() bool {
	if f.idx >= len(f.docs) {
		return false
	}
	f.idx++
	return true
}

func (f *fakeCursor) Next(ctx context.Context) bool    { return f.advance() }
func (f *fakeCursor) TryNext(ctx context.Context) bool { return f.advance() }

func (f *fakeCursor) Decode(val any) error {
	return bson.Unmarshal(f.docs[f.idx-1], val)
}

func (f *fakeCursor) RemainingBatchLength() int { return len(f.docs) - f.idx }
func (f *fakeCursor) Err() error                { return f.err }

func (f *fakeCursor) Close(ctx context.Context) error {
	f.closed = true
	return nil
}

func changeDoc(t *testing.T, full bson.D) []byte {
	t.Helper()
	data, err := bson.Marshal(bson.D{{Key: "fullDocument", Value: full}})
	require.NoError(t, err)
	return data
}

func outboundDoc(id string) bson.D {
	return bson.D{
		{Key: "_id", Value: id},
		{Key: "tenantId", Value: "tenant-a"},
		{Key: "workflowId", Value: "wf-1"},
		{Key: "participantId", Value: "p-1"},
		{Key: "direction", Value: "Outgoing"},
		{Key: "content", Value: "hello"},
	}
}

func TestNextBatchSkipsUndecodableDocument(t *testing.T) {
	// content as an int32 cannot decode into *string.
	broken := bson.D{
		{Key: "_id", Value: "bad"},
		{Key: "direction", Value: "Outgoing"},
		{Key: "content", Value: int32(7)},
	}

	cur := &fakeCursor{docs: [][]byte{
		changeDoc(t, outboundDoc("m1")),
		changeDoc(t, broken),
		changeDoc(t, outboundDoc("m2")),
	}}
	stream := &mongoStream{cur: cur, logger: slog.Default()}

	batch, err := stream.NextBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "m1", batch[0].ID)
	assert.Equal(t, "m2", batch[1].ID)
}

func TestNextBatchDrainsWholeBatch(t *testing.T) {
	cur := &fakeCursor{docs: [][]byte{
		changeDoc(t, outboundDoc("m1")),
		changeDoc(t, outboundDoc("m2")),
		changeDoc(t, outboundDoc("m3")),
	}}
	stream := &mongoStream{cur: cur, logger: slog.Default()}

	batch, err := stream.NextBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, batch, 3)
	assert.Equal(t, "tenant-a", batch[0].TenantID)
	assert.Equal(t, store.DirectionOutgoing, batch[0].Direction)
	assert.Equal(t, "hello", batch[0].Text())

	require.NoError(t, stream.Close(context.Background()))
	assert.True(t, cur.closed)
}

func TestMessageDocumentAcceptsObjectIDKeys(t *testing.T) {
	oid := bson.NewObjectID()
	doc := bson.D{
		{Key: "_id", Value: oid},
		{Key: "tenantId", Value: "tenant-a"},
		{Key: "participantId", Value: "p-1"},
		{Key: "direction", Value: "Outgoing"},
		{Key: "content", Value: "hello"},
	}

	cur := &fakeCursor{docs: [][]byte{changeDoc(t, doc)}}
	stream := &mongoStream{cur: cur, logger: slog.Default()}

	batch, err := stream.NextBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, oid.Hex(), batch[0].ID)
}
