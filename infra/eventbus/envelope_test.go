package eventbus

import (
	"testing"
	"time"

	"github.com/amirasaad/pixflow/pkg/domain/pix"
	"github.com/amirasaad/pixflow/pkg/eventbus"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRegistry = eventbus.Registry{
	pix.EventTypeStatusChanged: func() eventbus.Event { return &pix.StatusChanged{} },
}

func TestEnvelope_DecodesRegisteredType(t *testing.T) {
	in := &pix.StatusChanged{
		TransactionID: uuid.New(),
		Txid:          "tx",
		From:          pix.StatusPending,
		To:            pix.StatusPaid,
		Source:        pix.SourceWebhook,
		OccurredAt:    time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	raw, err := encodeEnvelope(in)
	require.NoError(t, err)

	typ, out, err := decodeEnvelope(raw, testRegistry)
	require.NoError(t, err)
	assert.Equal(t, pix.EventTypeStatusChanged, typ)
	assert.Equal(t, in, out)
}

func TestEnvelope_UnknownType(t *testing.T) {
	raw, err := encodeEnvelope(&pix.ChargeCreated{Txid: "tx"})
	require.NoError(t, err)

	typ, evt, err := decodeEnvelope(raw, testRegistry)
	require.Error(t, err)
	assert.Equal(t, pix.EventTypeChargeCreated, typ)
	assert.Nil(t, evt)

	_, _, err = decodeEnvelope([]byte("not json"), testRegistry)
	require.Error(t, err)
}

func TestNames(t *testing.T) {
	assert.Equal(t, "events:pix:statuschanged", streamNameFor(pix.EventTypeStatusChanged))
	assert.Equal(t, "dlq:pix:statuschanged", dlqStreamName(pix.EventTypeStatusChanged))
	assert.Equal(t, "pixflow:pix:statuschanged", groupNameFor("pixflow", pix.EventTypeStatusChanged))
	assert.Equal(t, "pixflow.events.pix.statuschanged", topicNameFor(defaultTopicPrefix, pix.EventTypeStatusChanged))
	assert.Equal(t, []string{"a:1", "b:2"}, parseBrokers(" a:1, ,b:2"))
}
